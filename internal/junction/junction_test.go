package junction

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codecalc/junction-engine/internal/cover"
	"github.com/codecalc/junction-engine/internal/db"
	"github.com/codecalc/junction-engine/internal/metrics"
	"github.com/codecalc/junction-engine/internal/notify"
	"github.com/codecalc/junction-engine/internal/shadow"
	"github.com/codecalc/junction-engine/pkg/models"
)

type staticSource struct {
	certs []models.Certificate
	err   error
}

func (s staticSource) Certificates(context.Context, string) ([]models.Certificate, error) {
	return s.certs, s.err
}

type recordingHub struct {
	mu     sync.Mutex
	events [][]byte
}

func (h *recordingHub) Broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, data)
}

type recordingNotifier struct {
	mu       sync.Mutex
	payloads []notify.Payload
}

func (n *recordingNotifier) Send(_ context.Context, p notify.Payload) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payloads = append(n.payloads, p)
	return 1, nil
}

func ptr(f float64) *float64 { return &f }

// gatedSaver blocks every save until release is closed.
type gatedSaver struct {
	release chan struct{}
	mu      sync.Mutex
	saved   int
}

func (g *gatedSaver) SaveShadowResult(context.Context, models.ShadowResult) error {
	<-g.release
	g.mu.Lock()
	defer g.mu.Unlock()
	g.saved++
	return nil
}

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func testOptions() Options {
	return Options{
		Solver:                 cover.DefaultConfig(),
		BaseCommission:         0.05,
		DefaultExtraCommission: 0.02,
		DefaultEntryCeiling:    0.47,
		MaxResults:             10,
		Workers:                2,
	}
}

func sampleBase() []models.Certificate {
	return []models.Certificate{
		{ID: "a#2", Administrator: "Porto", Type: "Imóvel", Credit: 100000, Installments: "120x R$ 900,00", DueDate: date(2025, 5, 10), Supplier: "F1"},
		{ID: "a#3", Administrator: "Porto", Type: "Imóvel", Credit: 150000, Installments: "150x R$ 1.100,00", DueDate: date(2025, 4, 1), Supplier: "F2"},
		{ID: "a#4", Administrator: "Porto", Type: "Imóvel", Credit: 200000, Installments: "180x R$ 1.300,00", DueDate: date(2025, 3, 15), Supplier: "F1"},
		{ID: "b#2", Administrator: "Itaú", Type: "Imóvel", Credit: 320000, Installments: "200x R$ 2.000,00", Supplier: "F3"},
		{ID: "b#3", Administrator: "Itaú", Type: "Auto", Credit: 80000, Supplier: "F3"},
		{ID: "c#2", Administrator: "Bradesco", Type: "Imóvel", Credit: 90000, Supplier: "F4"},
	}
}

func newTestService(t *testing.T, deps Deps) *Service {
	t.Helper()
	if deps.Certificates == nil {
		deps.Certificates = staticSource{certs: sampleBase()}
	}
	s := NewService(deps, testOptions(), zap.NewNop())
	s.newID = func() string { return "run-1" }
	s.now = func() time.Time { return time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC) }
	t.Cleanup(s.Wait)
	return s
}

func TestCreate_RanksGroupsBySmallestCover(t *testing.T) {
	s := newTestService(t, Deps{})

	resp, err := s.Create(context.Background(), models.JunctionRequest{
		Type:            "imovel",
		DesiredCredit:   300000,
		ExtraCommission: ptr(0.02),
	})
	require.NoError(t, err)
	require.Empty(t, resp.Info)
	require.Len(t, resp.Options, 2, "Bradesco cannot reach the desired credit")

	porto := resp.Options[0]
	assert.Equal(t, "Porto", porto.Administrator)
	assert.Equal(t, "Imóvel", porto.Type)
	assert.Equal(t, 300000.0, porto.CreditTotal)
	assert.Equal(t, 21000.0, porto.Entry)
	assert.Equal(t, 2, porto.CertificatesUsed)
	assert.Equal(t, "120x R$ 900,00 | 180x R$ 1.300,00", porto.Installments)
	assert.Equal(t, "15/03/2025", porto.NearestDueDate)
	assert.Equal(t, "mitm", porto.Solver)

	itau := resp.Options[1]
	assert.Equal(t, "Itaú", itau.Administrator)
	assert.Equal(t, 320000.0, itau.CreditTotal)
	assert.Equal(t, 22400.0, itau.Entry)
	assert.Empty(t, itau.NearestDueDate)

	assert.Equal(t, "run-1", resp.ID)
	assert.Equal(t, &models.CommissionPolicy{Base: 0.05, Extra: 0.02, Total: 0.07}, resp.Commission)
	assert.Equal(t, &models.Governance{Rule: GovernanceRule, MixSuppliers: true, Solver: "mitm|fptas"}, resp.Governance)
	assert.Contains(t, resp.Message, "Porto Imóvel")
	assert.Contains(t, resp.Message, "Qual dessas opções mais te interessou?")
}

func TestCreate_NeverExposesSupplier(t *testing.T) {
	s := newTestService(t, Deps{})

	resp, err := s.Create(context.Background(), models.JunctionRequest{Type: "Imóvel", DesiredCredit: 300000, ExtraCommission: ptr(0)})
	require.NoError(t, err)

	body, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "F1")
	assert.NotContains(t, string(body), "fornecedor\"")
}

func TestCreate_InfoResponses(t *testing.T) {
	tests := []struct {
		name   string
		source staticSource
		req    models.JunctionRequest
		want   string
	}{
		{
			name:   "empty base",
			source: staticSource{},
			req:    models.JunctionRequest{Type: "Imóvel", DesiredCredit: 1000},
			want:   InfoEmptyBase,
		},
		{
			name:   "no certificate for type",
			source: staticSource{certs: sampleBase()},
			req:    models.JunctionRequest{Type: "Serviços", DesiredCredit: 1000},
			want:   InfoNoMatchingType,
		},
		{
			name:   "ceiling below the commission rate",
			source: staticSource{certs: sampleBase()},
			req:    models.JunctionRequest{Type: "Imóvel", DesiredCredit: 300000, EntryCeiling: ptr(0.05)},
			want:   InfoNothingInBudget,
		},
		{
			name:   "no group reaches the credit",
			source: staticSource{certs: sampleBase()},
			req:    models.JunctionRequest{Type: "Auto", DesiredCredit: 1_000_000},
			want:   InfoNothingInBudget,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := &recordingHub{}
			s := newTestService(t, Deps{Certificates: tt.source, Hub: hub})

			resp, err := s.Create(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.Info)
			assert.NotNil(t, resp.Options)
			assert.Empty(t, resp.Options)
			assert.Empty(t, resp.ID)
			assert.Empty(t, hub.events, "info responses have no side effects")
		})
	}
}

func TestCreate_EmptyTypeUsesWholeBase(t *testing.T) {
	s := newTestService(t, Deps{})

	resp, err := s.Create(context.Background(), models.JunctionRequest{DesiredCredit: 80000})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Options)
	assert.Equal(t, "Itaú", resp.Options[0].Administrator)
	assert.Equal(t, "Auto", resp.Options[0].Type)
}

func TestCreate_SourceError(t *testing.T) {
	s := newTestService(t, Deps{Certificates: staticSource{err: errors.New("bucket unavailable")}})

	_, err := s.Create(context.Background(), models.JunctionRequest{Type: "Imóvel", DesiredCredit: 1})
	assert.Error(t, err)
}

func TestCreate_InvalidSolverConfig(t *testing.T) {
	s := newTestService(t, Deps{})
	s.opts.Solver.Epsilon = 0

	_, err := s.Create(context.Background(), models.JunctionRequest{Type: "Imóvel", DesiredCredit: 1})
	assert.ErrorIs(t, err, cover.ErrInvalidConfig)
}

func TestCreate_SideEffects(t *testing.T) {
	ctx := context.Background()
	store, err := db.OpenSQLite(ctx, filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.InitSchema(ctx))

	hub := &recordingHub{}
	notifier := &recordingNotifier{}
	m := metrics.New()
	s := newTestService(t, Deps{
		Store:    store,
		Hub:      hub,
		Notifier: notifier,
		Shadow:   shadow.NewRunner(store, cover.DefaultConfig(), zap.NewNop()),
		Metrics:  m,
	})

	req := models.JunctionRequest{Type: "Imóvel", DesiredCredit: 300000, ExtraCommission: ptr(0.02)}
	resp, err := s.Create(ctx, req)
	require.NoError(t, err)
	s.Wait()

	run, err := store.GetJunctionRun(ctx, resp.ID)
	require.NoError(t, err)
	assert.Equal(t, resp.Options, run.Response.Options)
	assert.Equal(t, 300000.0, run.Request.DesiredCredit)

	require.Len(t, hub.events, 1)
	var event map[string]any
	require.NoError(t, json.Unmarshal(hub.events[0], &event))
	assert.Equal(t, "junction_created", event["type"])
	assert.Equal(t, "run-1", event["id"])

	require.Len(t, notifier.payloads, 1)
	assert.Equal(t, notify.Payload{Text: resp.Message, RunID: "run-1"}, notifier.payloads[0])

	report, err := store.DriftReport(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.TotalRuns, "Porto and Itaú are audited, Bradesco never reaches the target")
	assert.Zero(t, report.Divergences)
}

func TestCommission(t *testing.T) {
	s := newTestService(t, Deps{})
	tests := []struct {
		name      string
		extra     *float64
		wantExtra float64
	}{
		{"missing uses the market default", nil, 0.02},
		{"negative uses the market default", ptr(-0.01), 0.02},
		{"zero is honored", ptr(0), 0},
		{"explicit value", ptr(0.03), 0.03},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Commission(tt.extra)
			assert.Equal(t, 0.05, got.Base)
			assert.Equal(t, tt.wantExtra, got.Extra)
			assert.InDelta(t, 0.05+tt.wantExtra, got.Total, 1e-12)
		})
	}
}

func TestSummarizeInstallments(t *testing.T) {
	var certs []models.Certificate
	for _, p := range []string{"1", " ", "2", "3", "4", "5", "6", "7"} {
		certs = append(certs, models.Certificate{Installments: p})
	}
	assert.Equal(t, "1 | 2 | 3 | 4 | 5 | 6 ...", summarizeInstallments(certs))
	assert.Equal(t, "1 | 2", summarizeInstallments(certs[:3]))
	assert.Empty(t, summarizeInstallments(nil))
}

func TestGroupCertificates_SortsKeys(t *testing.T) {
	keys, members := groupCertificates(sampleBase())

	assert.Equal(t, []models.GroupKey{
		{Administrator: "Bradesco", Type: "Imóvel"},
		{Administrator: "Itaú", Type: "Auto"},
		{Administrator: "Itaú", Type: "Imóvel"},
		{Administrator: "Porto", Type: "Imóvel"},
	}, keys)
	assert.Len(t, members[models.GroupKey{Administrator: "Porto", Type: "Imóvel"}], 3)
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 21000.0, round2(300000*0.07))
	assert.Equal(t, 1234.57, round2(1234.5678))
}

func TestCreate_AuditsInBackground(t *testing.T) {
	saver := &gatedSaver{release: make(chan struct{})}
	var once sync.Once
	unblock := func() { once.Do(func() { close(saver.release) }) }
	s := newTestService(t, Deps{Shadow: shadow.NewRunner(saver, cover.DefaultConfig(), zap.NewNop())})
	t.Cleanup(unblock)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := s.Create(context.Background(), models.JunctionRequest{Type: "Imóvel", DesiredCredit: 300000, ExtraCommission: ptr(0.02)})
		assert.NoError(t, err)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Create blocked on the shadow audit")
	}

	unblock()
	s.Wait()
	saver.mu.Lock()
	defer saver.mu.Unlock()
	assert.Equal(t, 2, saver.saved)
}
