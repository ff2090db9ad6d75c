package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/smallbiznis/fitdesk/internal/apperr"
	"github.com/smallbiznis/fitdesk/internal/membership/domain"
	"go.uber.org/zap"
)

// snappyMagic opens every snappy framed stream.
var snappyMagic = []byte("\xff\x06\x00\x00sNaPpY")

// ExportBackup snapshots members, plans, payments and settings.
func (s *Service) ExportBackup(ctx context.Context) (domain.Backup, error) {
	members, err := s.store.Members.GetAll(ctx)
	if err != nil {
		return domain.Backup{}, err
	}
	plans, err := s.store.Plans.GetAll(ctx)
	if err != nil {
		return domain.Backup{}, err
	}
	payments, err := s.store.Payments.GetAll(ctx)
	if err != nil {
		return domain.Backup{}, err
	}
	settings, err := s.store.Settings.GetAll(ctx)
	if err != nil {
		return domain.Backup{}, err
	}

	data := &domain.BackupData{
		Clients:         make([]domain.Member, 0, len(members)),
		MembershipTypes: make([]domain.Plan, 0, len(plans)),
		Payments:        make([]domain.Payment, 0, len(payments)),
		Settings:        make([]domain.Setting, 0, len(settings)),
	}
	for _, m := range members {
		data.Clients = append(data.Clients, *m)
	}
	for _, p := range plans {
		data.MembershipTypes = append(data.MembershipTypes, *p)
	}
	for _, p := range payments {
		data.Payments = append(data.Payments, *p)
	}
	for _, st := range settings {
		data.Settings = append(data.Settings, *st)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return domain.Backup{}, fmt.Errorf("encode backup data: %w", err)
	}

	return domain.Backup{
		Version:   domain.BackupVersion,
		Timestamp: s.clock.Now(),
		Data:      data,
		Metadata: domain.BackupMetadata{
			Counts: map[string]int{
				"clients":          len(data.Clients),
				"membership_types": len(data.MembershipTypes),
				"payments":         len(data.Payments),
				"settings":         len(data.Settings),
			},
			Size:     len(raw),
			DeviceID: s.deviceID,
		},
	}, nil
}

// RestoreBackup replaces the local collections with the document's content.
// Collections the document omits, other than clients, are left alone. The
// outbox is never touched.
func (s *Service) RestoreBackup(ctx context.Context, backup domain.Backup) (domain.RestoreSummary, error) {
	if err := backup.Validate(); err != nil {
		return domain.RestoreSummary{}, invalid("data.clients", err, "backup needs a version and a clients list")
	}

	clients, err := s.restorableClients(backup.Data.Clients)
	if err != nil {
		return domain.RestoreSummary{}, err
	}

	var summary domain.RestoreSummary
	err = s.drainer.Hold(ctx, func(ctx context.Context) error {
		if err := s.store.Members.Clear(ctx); err != nil {
			return err
		}
		for i := range clients {
			m := clients[i]
			s.engine.ProjectMember(&m)
			if _, err := s.store.Members.Put(ctx, &m); err != nil {
				return err
			}
			summary.Members++
		}

		if backup.Data.MembershipTypes != nil {
			if err := s.store.Plans.Clear(ctx); err != nil {
				return err
			}
			for i := range backup.Data.MembershipTypes {
				p := backup.Data.MembershipTypes[i]
				if p.Slug == "" {
					p.Slug = domain.PlanSlug(p.Name)
				}
				if _, err := s.store.Plans.Put(ctx, &p); err != nil {
					return err
				}
				summary.Plans++
			}
		}

		if backup.Data.Payments != nil {
			if err := s.store.Payments.Clear(ctx); err != nil {
				return err
			}
			for i := range backup.Data.Payments {
				p := backup.Data.Payments[i]
				if _, err := s.store.Payments.Put(ctx, &p); err != nil {
					return err
				}
				summary.Payments++
			}
		}

		if backup.Data.Settings != nil {
			if err := s.store.Settings.Clear(ctx); err != nil {
				return err
			}
			for i := range backup.Data.Settings {
				st := backup.Data.Settings[i]
				if st.Key == "" {
					continue
				}
				if _, err := s.store.Settings.Put(ctx, &st); err != nil {
					return err
				}
				summary.Settings++
			}
		}
		return nil
	})
	if err != nil {
		return summary, err
	}

	s.log.Info("backup restored",
		zap.Int("members", summary.Members),
		zap.Int("plans", summary.Plans),
		zap.Int("payments", summary.Payments),
		zap.Int("settings", summary.Settings),
		zap.Time("backup_timestamp", backup.Timestamp),
	)
	s.notify(ctx, domain.ChangeEvent{Entity: domain.KindSync, Op: domain.ChangeRestored})
	return summary, nil
}

// EncodeBackup writes the document as JSON, snappy framed when compressed.
func EncodeBackup(w io.Writer, backup domain.Backup, compressed bool) error {
	if !compressed {
		return json.NewEncoder(w).Encode(backup)
	}
	sw := snappy.NewBufferedWriter(w)
	if err := json.NewEncoder(sw).Encode(backup); err != nil {
		_ = sw.Close()
		return err
	}
	return sw.Close()
}

// DecodeBackup reads a JSON document, plain or snappy framed.
func DecodeBackup(data []byte) (domain.Backup, error) {
	var r io.Reader = bytes.NewReader(data)
	if bytes.HasPrefix(data, snappyMagic) {
		r = snappy.NewReader(r)
	}

	var backup domain.Backup
	if err := json.NewDecoder(r).Decode(&backup); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, snappy.ErrCorrupt) {
			return domain.Backup{}, &apperr.ValidationError{Field: "body", Code: domain.ErrUnsupportedFormat.Error(), Message: err.Error()}
		}
		return domain.Backup{}, err
	}
	return backup, nil
}

// restorableClients applies the member field rules to every client of a
// backup. One bad client rejects the whole document.
func (s *Service) restorableClients(in []domain.Member) ([]domain.Member, error) {
	out := make([]domain.Member, 0, len(in))
	emails := make(map[string]string, len(in))
	for i, raw := range in {
		if raw.StartDate.IsZero() {
			return nil, restoreInvalid(i, "start_date", domain.ErrInvalidStartDate, "start date is required")
		}
		if raw.NextDueDate.IsZero() {
			return nil, restoreInvalid(i, "next_due_date", domain.ErrInvalidStartDate, "next due date is required")
		}
		m, err := s.normalizeMember(raw)
		if err != nil {
			var verr *apperr.ValidationError
			if errors.As(err, &verr) {
				return nil, restoreInvalid(i, verr.Field, errors.New(verr.Code), verr.Message)
			}
			return nil, err
		}
		if m.NextDueDate.Before(m.StartDate) {
			return nil, restoreInvalid(i, "next_due_date", domain.ErrInvalidStartDate, "next due date is before the start date")
		}
		if owner, ok := emails[m.Email]; ok && owner != m.ID {
			return nil, restoreInvalid(i, "email", domain.ErrDuplicateEmail, "another client in the backup already uses this email")
		}
		emails[m.Email] = m.ID
		out = append(out, m)
	}
	return out, nil
}

func restoreInvalid(index int, field string, code error, message string) error {
	return invalid(fmt.Sprintf("data.clients[%d].%s", index, field), code, message)
}
