package classifier

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/timmy/enrollflow/internal/domain"
)

var (
	enrollmentNumberPattern         = regexp.MustCompile(`(?i)n[úu]mero d[ae] inscri[çc][ãa]o\s*:\s*(\d+)`)
	enrollmentNumberFallbackPattern = regexp.MustCompile(`(?i)inscri[çc][ãa]o\s*(?:n[º°]|n\.|#)\s*:?\s*(\d+)`)
	enrollmentNumberEnglishPattern  = regexp.MustCompile(`(?i)enrollment number\s*:\s*(\d+)`)

	externalNumberPattern = regexp.MustCompile(`(?i)(?:n[úu]mero d[ae] matr[íi]cula|matr[íi]cula externa|external enrollment number)\s*:\s*([A-Za-z0-9-]+)`)

	campaignPattern     = regexp.MustCompile(`(?im)campanha(?: utilizada| selecionada| aplicada)?\s*:\s*(.+?)\s*$`)
	campaignCodePattern = regexp.MustCompile(`^(\d+)\s*-\s*(.*)$`)

	tuitionPattern      = regexp.MustCompile(`(?i)(?:taxa de matr[íi]cula|valor da matr[íi]cula|tuition fee)\s*:\s*(?:R\$\s*)?([\d.,]+)`)
	monthlyPattern      = regexp.MustCompile(`(?i)(?:mensalidade|monthly fee)\s*:\s*(?:R\$\s*)?([\d.,]+)`)
	installmentsPattern = regexp.MustCompile(`(?i)(?:quantidade de parcelas|parcelas|installments)\s*:\s*(\d+)`)

	approvalPathPattern    = regexp.MustCompile(`(?im)(?:screenshot|comprovante)(?: de aprova[çc][ãa]o)? salvo em\s*:\s*(\S+)\s*$`)
	paymentSlipPathPattern = regexp.MustCompile(`(?im)boleto salvo em\s*:\s*(\S+)\s*$`)

	campusUsedPattern       = regexp.MustCompile(`(?im)polo utilizado\s*:\s*(.+?)\s*$`)
	campusFallbackPattern   = regexp.MustCompile(`(?im)polo alternativo(?: utilizado)?\s*:\s*(.+?)\s*$`)
	categoryFallbackPattern = regexp.MustCompile(`(?im)(?:modalidade|categoria) alternativa(?: utilizada)?\s*:\s*(.+?)\s*$`)
)

func extractSuccess(p *View) domain.Outcome {
	s := domain.Success{
		EnrollmentNumber:         p.FirstOf(enrollmentNumberPattern, enrollmentNumberFallbackPattern, enrollmentNumberEnglishPattern),
		ExternalEnrollmentNumber: p.LastMatch(externalNumberPattern),
		ApprovalArtifactPath:     p.LastMatch(approvalPathPattern),
		PaymentSlipArtifactPath:  p.LastMatch(paymentSlipPathPattern),
		CampusUsed:               p.LastMatch(campusUsedPattern),
	}

	if campaign := p.LastMatch(campaignPattern); campaign != "" {
		s.CampaignCode, s.CampaignName = splitCampaign(campaign)
	}

	if alt := p.LastMatch(campusFallbackPattern); alt != "" {
		s.CampusUsed = alt
		s.CampusFallback = true
	}
	if alt := p.LastMatch(categoryFallbackPattern); alt != "" {
		s.CategoryUsed = alt
		s.CategoryFallback = true
	}

	s.Financials.TuitionFee = parseNullAmount(p.LastMatch(tuitionPattern))
	s.Financials.MonthlyFee = parseNullAmount(p.LastMatch(monthlyPattern))
	if raw := p.LastMatch(installmentsPattern); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			s.Financials.InstallmentCount = &n
		}
	}

	return s
}

// splitCampaign separates "2542 - Balcão 10%CT" into code and name.
// Without a numeric prefix the whole text is the name.
func splitCampaign(raw string) (code, name string) {
	raw = strings.TrimSpace(raw)
	if m := campaignCodePattern.FindStringSubmatch(raw); m != nil {
		return m[1], strings.TrimSpace(m[2])
	}
	return "", raw
}
