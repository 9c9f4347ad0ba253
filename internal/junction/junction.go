// Package junction builds certificate junctions: within every
// (administrator, type) group it picks the combination of certificates whose
// credit total is the smallest one covering the desired credit, then ranks
// the groups by the resulting entry.
package junction

import (
	"cmp"
	"context"
	"encoding/json"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codecalc/junction-engine/internal/cover"
	"github.com/codecalc/junction-engine/internal/db"
	"github.com/codecalc/junction-engine/internal/message"
	"github.com/codecalc/junction-engine/internal/metrics"
	"github.com/codecalc/junction-engine/internal/notify"
	"github.com/codecalc/junction-engine/internal/shadow"
	"github.com/codecalc/junction-engine/internal/textutil"
	"github.com/codecalc/junction-engine/pkg/models"
)

// Info messages returned instead of options.
const (
	InfoEmptyBase       = "Sem base de cartas no bucket."
	InfoNoMatchingType  = "Nenhuma carta compatível com o tipo informado."
	InfoNothingInBudget = "Não foi possível montar junções dentro do teto de entrada."
)

// GovernanceRule is the only combination rule: certificates are mixed across
// suppliers but never across administrators or types.
const GovernanceRule = "mesma_administradora_mesmo_tipo"

const (
	maxInstallmentItems = 6
	dueDateLayout       = "02/01/2006"
)

// CertificateSource returns the certificate base under a prefix. catalog.Catalog satisfies it.
type CertificateSource interface {
	Certificates(ctx context.Context, prefix string) ([]models.Certificate, error)
}

// Broadcaster pushes events to live subscribers. api.Hub satisfies it.
type Broadcaster interface {
	Broadcast(data []byte)
}

// Notifier delivers a chat summary for a created run. notify.Webhook satisfies it.
type Notifier interface {
	Send(ctx context.Context, p notify.Payload) (int, error)
}

// Options are the commercial and solver settings.
type Options struct {
	Solver                 cover.Config
	BaseCommission         float64
	DefaultExtraCommission float64
	DefaultEntryCeiling    float64
	MaxResults             int
	Workers                int
}

// Deps are the collaborators of a Service. Only Certificates is required.
type Deps struct {
	Certificates CertificateSource
	Store        db.Store
	Hub          Broadcaster
	Notifier     Notifier
	Shadow       *shadow.Runner
	Metrics      *metrics.Metrics
}

type Service struct {
	deps   Deps
	opts   Options
	logger *zap.Logger

	now   func() time.Time
	newID func() string

	// pending tracks webhook deliveries still in flight.
	pending sync.WaitGroup
}

func NewService(deps Deps, opts Options, logger *zap.Logger) *Service {
	return &Service{
		deps:   deps,
		opts:   opts,
		logger: logger.Named("junction"),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// Wait blocks until in-flight shadow audits and webhook deliveries finish.
func (s *Service) Wait() {
	s.pending.Wait()
}

// Commission resolves the rates applied to a request. A missing or negative
// extra commission falls back to the market default; zero is honored.
func (s *Service) Commission(extra *float64) models.CommissionPolicy {
	used := s.opts.DefaultExtraCommission
	if extra != nil && *extra >= 0 {
		used = *extra
	}
	return models.CommissionPolicy{
		Base:  s.opts.BaseCommission,
		Extra: used,
		Total: s.opts.BaseCommission + used,
	}
}

// Create builds the junction options for req. An error is returned only when
// the certificate base cannot be read or the solver is misconfigured; empty
// outcomes are reported through JunctionResponse.Info.
func (s *Service) Create(ctx context.Context, req models.JunctionRequest) (models.JunctionResponse, error) {
	start := time.Now()
	commission := s.Commission(req.ExtraCommission)
	ceiling := s.opts.DefaultEntryCeiling
	if req.EntryCeiling != nil {
		ceiling = *req.EntryCeiling
	}

	certs, err := s.deps.Certificates.Certificates(ctx, req.Prefix)
	if err != nil {
		s.observe("error", 0)
		return models.JunctionResponse{}, err
	}
	if len(certs) == 0 {
		s.observe("empty_base", 0)
		return infoResponse(InfoEmptyBase), nil
	}

	matching := filterByType(certs, req.Type)
	if len(matching) == 0 {
		s.observe("no_matching_type", 0)
		return infoResponse(InfoNoMatchingType), nil
	}

	keys, members := groupCertificates(matching)
	groups := make([]cover.Group, len(keys))
	for i, k := range keys {
		groups[i] = coverGroup(k, members[k])
	}

	grouped := cover.GroupedOptions{
		RankOptions: cover.RankOptions{
			CostRate:     commission.Total,
			RatioCeiling: &ceiling,
			MaxResults:   s.opts.MaxResults,
		},
		Target:  req.DesiredCredit,
		Config:  s.opts.Solver,
		Workers: s.opts.Workers,
	}
	if s.deps.Metrics != nil {
		grouped.OnSolved = s.deps.Metrics.ObserveGroup
	}
	ranked, err := cover.SolveGrouped(ctx, groups, grouped)
	if err != nil {
		s.observe("error", 0)
		return models.JunctionResponse{}, err
	}
	if len(ranked) == 0 {
		s.observe("outside_ceiling", 0)
		return infoResponse(InfoNothingInBudget), nil
	}

	options := make([]models.JunctionOption, len(ranked))
	for i, r := range ranked {
		options[i] = buildOption(members[keys[r.Index]], r.Result, commission.Total)
	}

	resp := models.JunctionResponse{
		ID:         s.newID(),
		Options:    options,
		Commission: &commission,
		Governance: &models.Governance{
			Rule:         GovernanceRule,
			MixSuppliers: true,
			Solver:       string(cover.MethodExact) + "|" + string(cover.MethodApprox),
		},
		Message: message.JoinBlocks(options),
	}

	s.logger.Info("junction created",
		zap.String("run_id", resp.ID),
		zap.String("type", req.Type),
		zap.Float64("desired_credit", req.DesiredCredit),
		zap.Int("groups", len(groups)),
		zap.Int("options", len(options)),
		zap.Duration("elapsed", time.Since(start)))
	s.observe("ok", len(options))
	s.afterCreate(ctx, req, resp, groups)
	return resp, nil
}

// afterCreate runs the side effects of a created junction. The shadow audit
// and the webhook run in the background, tracked by Wait. Failures are logged
// and never reach the caller.
func (s *Service) afterCreate(ctx context.Context, req models.JunctionRequest, resp models.JunctionResponse, groups []cover.Group) {
	if s.deps.Store != nil {
		run := models.JunctionRun{ID: resp.ID, CreatedAt: s.now(), Request: req, Response: resp}
		if err := s.deps.Store.SaveJunctionRun(ctx, run); err != nil {
			s.logger.Error("failed to persist junction run", zap.String("run_id", resp.ID), zap.Error(err))
		}
	}

	if s.deps.Hub != nil {
		event, err := json.Marshal(createdEvent{Type: "junction_created", ID: resp.ID, Tipo: req.Type, Options: len(resp.Options)})
		if err == nil {
			s.deps.Hub.Broadcast(event)
		}
	}

	if s.deps.Shadow != nil {
		s.pending.Add(1)
		go func() {
			defer s.pending.Done()
			s.deps.Shadow.AuditGroups(context.WithoutCancel(ctx), resp.ID, groups, req.DesiredCredit)
		}()
	}

	if s.deps.Notifier != nil {
		s.pending.Add(1)
		go func() {
			defer s.pending.Done()
			_, err := s.deps.Notifier.Send(context.WithoutCancel(ctx), notify.Payload{Text: resp.Message, RunID: resp.ID})
			if s.deps.Metrics != nil {
				s.deps.Metrics.ObserveWebhook(err)
			}
		}()
	}
}

type createdEvent struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Tipo    string `json:"tipo"`
	Options int    `json:"opcoes"`
}

func (s *Service) observe(result string, options int) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveJunction(result, options)
	}
}

func infoResponse(info string) models.JunctionResponse {
	return models.JunctionResponse{Options: []models.JunctionOption{}, Info: info}
}

// filterByType keeps certificates whose type matches tipo ignoring case and
// accents. An empty tipo keeps everything.
func filterByType(certs []models.Certificate, tipo string) []models.Certificate {
	want := textutil.Fold(tipo)
	if want == "" {
		return certs
	}
	var out []models.Certificate
	for _, c := range certs {
		if textutil.Fold(c.Type) == want {
			out = append(out, c)
		}
	}
	return out
}

// groupCertificates partitions certs by (administrator, type) and returns the
// keys sorted by administrator then type. Members keep their input order.
func groupCertificates(certs []models.Certificate) ([]models.GroupKey, map[models.GroupKey][]models.Certificate) {
	members := make(map[models.GroupKey][]models.Certificate)
	var keys []models.GroupKey
	for _, c := range certs {
		k := models.GroupKey{Administrator: c.Administrator, Type: c.Type}
		if _, ok := members[k]; !ok {
			keys = append(keys, k)
		}
		members[k] = append(members[k], c)
	}
	slices.SortFunc(keys, func(a, b models.GroupKey) int {
		if c := cmp.Compare(a.Administrator, b.Administrator); c != 0 {
			return c
		}
		return cmp.Compare(a.Type, b.Type)
	})
	return keys, members
}

// coverGroup maps a group's certificates to solver entries. Entry IDs are
// member positions so chosen entries resolve back without a lookup table.
func coverGroup(key models.GroupKey, members []models.Certificate) cover.Group {
	g := cover.Group{Key: key.String(), Entries: make([]cover.Entry, len(members))}
	for i, c := range members {
		g.Entries[i] = cover.Entry{Value: c.Credit, ID: strconv.Itoa(i)}
	}
	return g
}

func buildOption(members []models.Certificate, res cover.Result, rate float64) models.JunctionOption {
	chosen := make([]models.Certificate, 0, len(res.Chosen))
	for _, id := range res.Chosen {
		i, err := strconv.Atoi(id)
		if err != nil || i < 0 || i >= len(members) {
			continue
		}
		chosen = append(chosen, members[i])
	}

	opt := models.JunctionOption{
		CreditTotal:      round2(res.Sum),
		Entry:            round2(res.Sum * rate),
		Installments:     summarizeInstallments(chosen),
		CertificatesUsed: len(chosen),
		Solver:           string(res.Method),
	}
	if len(chosen) > 0 {
		opt.Administrator = chosen[0].Administrator
		opt.Type = chosen[0].Type
	}
	if due := nearestDueDate(chosen); due != nil {
		opt.NearestDueDate = due.Format(dueDateLayout)
	}
	return opt
}

func summarizeInstallments(certs []models.Certificate) string {
	var items []string
	for _, c := range certs {
		if p := strings.TrimSpace(c.Installments); p != "" {
			items = append(items, p)
		}
	}
	if len(items) <= maxInstallmentItems {
		return strings.Join(items, " | ")
	}
	return strings.Join(items[:maxInstallmentItems], " | ") + " ..."
}

func nearestDueDate(certs []models.Certificate) *time.Time {
	var nearest *time.Time
	for _, c := range certs {
		if c.DueDate != nil && (nearest == nil || c.DueDate.Before(*nearest)) {
			nearest = c.DueDate
		}
	}
	return nearest
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
