// Package reminder emails members whose payment is due soon or overdue.
package reminder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/smallbiznis/fitdesk/internal/billingcycle"
	"github.com/smallbiznis/fitdesk/internal/clock"
	"github.com/smallbiznis/fitdesk/internal/membership/domain"
	"github.com/smallbiznis/fitdesk/internal/observability/metrics"
	"github.com/smallbiznis/fitdesk/internal/providers/email"
	"github.com/yuin/goldmark"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultGymName = "the gym"

const defaultTemplate = `Hi {{.Name}},

Your **{{.GymName}}** membership payment of **{{printf "%.2f" .AmountOwed}}** {{if .Overdue}}was due on{{else}}is due on{{end}} **{{.DueDate}}**.

Please stop by the front desk to renew.`

// Members is the slice of the membership service reminders need.
type Members interface {
	DueMembers(ctx context.Context, statuses ...domain.PaymentStatus) ([]domain.Member, error)
	GetSetting(ctx context.Context, key string) (domain.Setting, error)
	PutSetting(ctx context.Context, key string, value json.RawMessage) (domain.Setting, error)
}

type Params struct {
	fx.In

	Members domain.Service
	Email   email.Provider
	Clock   clock.Clock
	Log     *zap.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	members  Members
	email    email.Provider
	clock    clock.Clock
	log      *zap.Logger
	metrics  *metrics.Metrics
	markdown goldmark.Markdown
}

// Result counts what one pass did.
type Result struct {
	Sent    int
	Skipped int
	Failed  int
}

// marker records the due date a reminder was last sent for.
type marker struct {
	DueDate time.Time `json:"due_date"`
	SentAt  time.Time `json:"sent_at"`
}

type templateData struct {
	Name       string
	GymName    string
	AmountOwed float64
	DueDate    string
	Overdue    bool
}

var Module = fx.Module("reminder",
	fx.Provide(New),
)

func New(p Params) *Service {
	return newService(p.Members, p.Email, p.Clock, p.Log, p.Metrics)
}

func newService(members Members, provider email.Provider, clk clock.Clock, log *zap.Logger, m *metrics.Metrics) *Service {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		members: members,
		email:   provider,
		clock:   clk,
		log:     log.Named("reminder"),
		metrics: m,
		markdown: goldmark.New(
			goldmark.WithRendererOptions(goldmarkhtml.WithHardWraps()),
		),
	}
}

// Run sends at most one reminder per member and due date.
func (s *Service) Run(ctx context.Context) (Result, error) {
	var result Result

	due, err := s.members.DueMembers(ctx,
		domain.PaymentStatus(billingcycle.StatusDueSoon),
		domain.PaymentStatus(billingcycle.StatusOverdue),
	)
	if err != nil {
		return result, err
	}
	if len(due) == 0 {
		return result, nil
	}

	tmpl, err := s.template(ctx)
	if err != nil {
		return result, err
	}
	gymName := s.stringSetting(ctx, domain.SettingGymName, defaultGymName)

	var runErr error
	for _, m := range due {
		if ctx.Err() != nil {
			return result, errors.Join(runErr, ctx.Err())
		}
		if !m.AutoRemindersEnabled || strings.TrimSpace(m.Email) == "" {
			result.Skipped++
			continue
		}
		if s.alreadySent(ctx, m) {
			result.Skipped++
			continue
		}

		msg, err := s.render(tmpl, gymName, m)
		if err != nil {
			return result, err
		}
		if err := s.email.Send(ctx, msg); err != nil {
			result.Failed++
			runErr = errors.Join(runErr, fmt.Errorf("remind %s: %w", m.ID, err))
			s.log.Warn("reminder not delivered", zap.String("member_id", m.ID), zap.Error(err))
			continue
		}
		if err := s.markSent(ctx, m); err != nil {
			runErr = errors.Join(runErr, err)
		}
		result.Sent++
		s.metrics.RecordReminderSent(ctx, s.email.Name())
		s.log.Info("reminder sent",
			zap.String("member_id", m.ID),
			zap.String("payment_status", string(m.PaymentStatus)),
			zap.Time("next_due_date", m.NextDueDate),
		)
	}
	return result, runErr
}

func (s *Service) template(ctx context.Context) (*template.Template, error) {
	body := s.stringSetting(ctx, domain.SettingReminderTemplate, defaultTemplate)
	tmpl, err := template.New("reminder").Parse(body)
	if err != nil {
		s.log.Warn("reminder template is invalid, using the default", zap.Error(err))
		return template.Must(template.New("reminder").Parse(defaultTemplate)), nil
	}
	return tmpl, nil
}

func (s *Service) render(tmpl *template.Template, gymName string, m domain.Member) (email.Message, error) {
	data := templateData{
		Name:       m.Name,
		GymName:    gymName,
		AmountOwed: m.AmountOwed,
		DueDate:    m.NextDueDate.Format("2 January 2006"),
		Overdue:    m.PaymentStatus == domain.PaymentStatus(billingcycle.StatusOverdue),
	}

	var md bytes.Buffer
	if err := tmpl.Execute(&md, data); err != nil {
		return email.Message{}, fmt.Errorf("render reminder: %w", err)
	}
	var html bytes.Buffer
	if err := s.markdown.Convert(md.Bytes(), &html); err != nil {
		return email.Message{}, fmt.Errorf("render reminder: %w", err)
	}

	subject := "Membership payment due"
	if data.Overdue {
		subject = "Membership payment overdue"
	}
	if gymName != defaultGymName {
		subject = gymName + ": " + strings.ToLower(subject[:1]) + subject[1:]
	}
	return email.Message{To: []string{m.Email}, Subject: subject, HTML: html.String()}, nil
}

func (s *Service) alreadySent(ctx context.Context, m domain.Member) bool {
	setting, err := s.members.GetSetting(ctx, domain.SettingReminderPrefix+m.ID)
	if err != nil {
		return false
	}
	var last marker
	if err := json.Unmarshal(setting.Value, &last); err != nil {
		return false
	}
	return billingcycle.Day(last.DueDate).Equal(billingcycle.Day(m.NextDueDate))
}

func (s *Service) markSent(ctx context.Context, m domain.Member) error {
	raw, err := json.Marshal(marker{DueDate: billingcycle.Day(m.NextDueDate), SentAt: s.clock.Now().UTC()})
	if err != nil {
		return err
	}
	_, err = s.members.PutSetting(ctx, domain.SettingReminderPrefix+m.ID, raw)
	return err
}

func (s *Service) stringSetting(ctx context.Context, key, def string) string {
	setting, err := s.members.GetSetting(ctx, key)
	if err != nil {
		return def
	}
	var v string
	if err := json.Unmarshal(setting.Value, &v); err != nil || strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
