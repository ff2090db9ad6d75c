package domain

import "errors"

var (
	ErrInvalidName       = errors.New("invalid_name")
	ErrInvalidEmail      = errors.New("invalid_email")
	ErrDuplicateEmail    = errors.New("duplicate_email")
	ErrInvalidFee        = errors.New("invalid_fee")
	ErrInvalidStatus     = errors.New("invalid_status")
	ErrInvalidStartDate  = errors.New("invalid_start_date")
	ErrInvalidCycle      = errors.New("invalid_cycle_days")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrInvalidBackup     = errors.New("invalid_backup")
	ErrDuplicatePayment  = errors.New("duplicate_payment")
	ErrInvalidSetting    = errors.New("invalid_setting")
	ErrSettingNotFound   = errors.New("setting_not_found")
	ErrMemberNotFound    = errors.New("member_not_found")
	ErrPlanNotFound      = errors.New("plan_not_found")
	ErrPaymentNotFound   = errors.New("payment_not_found")
	ErrMemberInactive    = errors.New("member_inactive")
	ErrUnsupportedFormat = errors.New("unsupported_backup_format")
)
