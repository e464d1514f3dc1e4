package classifier

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/enrollflow/internal/domain"
)

const successOutput = `[1/9] Abrindo portal de inscrição
[5/9] Polo utilizado: Centro - São Paulo
Campanha: 2542 - Balcão 10%CT
Taxa de matrícula: R$ 1.234,56
Mensalidade: R$ 899,90
Parcelas: 12
Número de inscrição: 265191841
Número da matrícula: A-99812
Screenshot de aprovação salvo em: /data/artifacts/aprovacao-12345678901-265191841.png
Boleto salvo em: /data/artifacts/boleto-12345678901-265191841.pdf
✅ Inscrição finalizada com sucesso
`

func TestClassify_Priority(t *testing.T) {
	tests := []struct {
		name     string
		exitCode int
		output   string
		want     domain.OutcomeKind
	}{
		{
			name:   "duplicate beats later success",
			output: "Este CPF já possui uma inscrição\n" + successOutput,
			want:   domain.OutcomeDuplicate,
		},
		{
			name:   "address beats campus",
			output: "CEP não encontrado\nPolo não encontrado",
			want:   domain.OutcomeAddressNotFound,
		},
		{
			name:   "campus beats checkout",
			output: "Polo não encontrado\nCheckout não alcançado",
			want:   domain.OutcomeCampusNotFound,
		},
		{
			name:   "checkout beats success",
			output: "Checkout não alcançado\n" + successOutput,
			want:   domain.OutcomeCheckoutFailed,
		},
		{
			name:   "success",
			output: successOutput,
			want:   domain.OutcomeSuccess,
		},
		{
			name:   "negated success marker",
			output: "Inscrição finalizada com sucesso?\n❌ Inscrição NÃO finalizada",
			want:   domain.OutcomeNotFinalized,
		},
		{
			name:     "not finalized wins over exit code",
			exitCode: 3,
			output:   "Inscrição NÃO finalizada",
			want:     domain.OutcomeNotFinalized,
		},
		{
			name:     "nonzero exit without markers",
			exitCode: 1,
			output:   "TypeError: cannot read properties of undefined",
			want:     domain.OutcomeProcessFailed,
		},
		{
			name:   "silent exit is not success",
			output: "navegando...\nconcluído",
			want:   domain.OutcomeNotFinalized,
		},
		{
			name:   "english markers",
			output: "applicant already has a submission for both modes",
			want:   domain.OutcomeDuplicate,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.exitCode, tc.output)
			assert.Equal(t, tc.want, got.Kind())
		})
	}
}

func TestClassify_SuccessFields(t *testing.T) {
	out := Classify(0, successOutput)
	s, ok := out.(domain.Success)
	require.True(t, ok, "expected Success, got %T", out)

	assert.Equal(t, "265191841", s.EnrollmentNumber)
	assert.Equal(t, "A-99812", s.ExternalEnrollmentNumber)
	assert.Equal(t, "2542", s.CampaignCode)
	assert.Equal(t, "Balcão 10%CT", s.CampaignName)
	assert.Equal(t, "Centro - São Paulo", s.CampusUsed)
	assert.False(t, s.CampusFallback)
	assert.Equal(t, "/data/artifacts/aprovacao-12345678901-265191841.png", s.ApprovalArtifactPath)
	assert.Equal(t, "/data/artifacts/boleto-12345678901-265191841.pdf", s.PaymentSlipArtifactPath)
	require.True(t, s.Financials.TuitionFee.Valid)
	assert.True(t, s.Financials.TuitionFee.Decimal.Equal(decimal.RequireFromString("1234.56")))
	require.True(t, s.Financials.MonthlyFee.Valid)
	assert.True(t, s.Financials.MonthlyFee.Decimal.Equal(decimal.RequireFromString("899.90")))
	require.NotNil(t, s.Financials.InstallmentCount)
	assert.Equal(t, 12, *s.Financials.InstallmentCount)
	assert.True(t, s.HasArtifacts())
}

func TestClassify_EnrollmentNumberFallback(t *testing.T) {
	out := Classify(0, "Inscrição nº 700100200 gerada\nInscrição finalizada com sucesso")
	s, ok := out.(domain.Success)
	require.True(t, ok)
	assert.Equal(t, "700100200", s.EnrollmentNumber)
}

func TestClassify_FallbackAnnotations(t *testing.T) {
	output := "Polo alternativo utilizado: Polo Norte\nModalidade alternativa: EAD\nInscrição finalizada com sucesso"
	s, ok := Classify(0, output).(domain.Success)
	require.True(t, ok)
	assert.Equal(t, "Polo Norte", s.CampusUsed)
	assert.True(t, s.CampusFallback)
	assert.Equal(t, "EAD", s.CategoryUsed)
	assert.True(t, s.CategoryFallback)
}

func TestClassify_CampusRequested(t *testing.T) {
	c := New(0)

	withMarker := c.Classify(Input{
		Output:          "Polo solicitado: Vila Nova\nPolo não encontrado",
		RequestedCampus: "Outro",
	})
	assert.Equal(t, domain.CampusNotFound{Requested: "Vila Nova"}, withMarker)

	withoutMarker := c.Classify(Input{
		Output:          "Polo não encontrado",
		RequestedCampus: "Outro",
	})
	assert.Equal(t, domain.CampusNotFound{Requested: "Outro"}, withoutMarker)
}

func TestClassify_TimedOut(t *testing.T) {
	out := New(0).Classify(Input{ExitCode: -1, Output: successOutput, TimedOut: true})
	pf, ok := out.(domain.ProcessFailed)
	require.True(t, ok)
	assert.True(t, pf.TimedOut)
	assert.Equal(t, domain.StageProcessFailed, out.Stage())
}

func TestClassify_WindowIgnoresStaleValues(t *testing.T) {
	stale := "Número de inscrição: 111111111\n" + strings.Repeat("x", 500) + "\n"
	fresh := "Número de inscrição: 222222222\nInscrição finalizada com sucesso\n"
	c := New(len(fresh) + 10)

	s, ok := c.Classify(Input{Output: stale + fresh}).(domain.Success)
	require.True(t, ok)
	assert.Equal(t, "222222222", s.EnrollmentNumber)

	// the last occurrence wins even inside the window
	s, ok = New(0).Classify(Input{Output: stale + fresh}).(domain.Success)
	require.True(t, ok)
	assert.Equal(t, "222222222", s.EnrollmentNumber)
}

func TestClassify_MarkersOutsideWindow(t *testing.T) {
	early := "Este CPF já possui uma inscrição\n" + strings.Repeat("x", 500) + "\n"
	late := "Inscrição finalizada com sucesso\n"
	c := New(len(late) + 10)

	out := c.Classify(Input{Output: early + late})
	assert.Equal(t, domain.OutcomeDuplicate, out.Kind())
}

func TestDefaultRules_Order(t *testing.T) {
	var names []string
	for _, r := range DefaultRules() {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{
		"timed_out",
		"duplicate_submission",
		"address_not_found",
		"campus_not_found",
		"checkout_failed",
		"finalized",
		"not_finalized",
		"process_failed",
		"silent_exit",
	}, names)
}

func TestTail_RuneBoundary(t *testing.T) {
	s := "ãããã"
	got := tail(s, 3)
	assert.Equal(t, "ã", got)
	assert.Equal(t, s, tail(s, 100))
}
