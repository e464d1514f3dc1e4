package classifier

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Markers are compared after folding (lower case, accents removed), so
// "Já possui uma INSCRIÇÃO" and "ja possui uma inscricao" match the same marker.
var (
	duplicateMarkers = []string{
		"ja possui uma inscricao",
		"ja possui inscricao",
		"inscricao duplicada",
		"already has a submission",
	}
	addressMarkers = []string{
		"cep nao encontrado",
		"endereco nao encontrado",
		"cep invalido",
		"address not found",
		"postal code not found",
	}
	campusMarkers = []string{
		"polo nao encontrado",
		"nenhum polo encontrado",
		"campus not found",
	}
	checkoutMarkers = []string{
		"checkout nao alcancado",
		"nao chegou ao checkout",
		"falha ao acessar o checkout",
		"checkout not reached",
	}
	successMarkers = []string{
		"inscricao finalizada com sucesso",
		"finalized successfully",
	}
	notFinalizedMarkers = []string{
		"inscricao nao finalizada",
		"not finalized",
	}
)

var requestedCampusPattern = regexp.MustCompile(`(?im)(?:polo solicitado|requested campus)\s*:\s*(.+?)\s*$`)

// View is a prepared view of one run's output.
type View struct {
	in     Input
	folded string
	window string
}

func newView(in Input, window int) *View {
	return &View{
		in:     in,
		folded: fold(in.Output),
		window: tail(in.Output, window),
	}
}

// Contains reports whether any marker occurs anywhere in the output.
// Markers scan the whole output, not the extraction window, so a duplicate
// signal printed early still outranks a later success marker.
func (p *View) Contains(markers ...string) bool {
	for _, m := range markers {
		if strings.Contains(p.folded, m) {
			return true
		}
	}
	return false
}

// LastMatch returns the first capture group of the last match of re inside
// the extraction window, trimmed. Using the last match keeps values from an
// earlier retry loop in the worker from leaking into the result.
func (p *View) LastMatch(re *regexp.Regexp) string {
	matches := re.FindAllStringSubmatch(p.window, -1)
	if len(matches) == 0 {
		return ""
	}
	last := matches[len(matches)-1]
	if len(last) < 2 {
		return ""
	}
	return strings.TrimSpace(last[1])
}

// FirstOf tries each pattern in order and returns the first non-empty match.
func (p *View) FirstOf(patterns ...*regexp.Regexp) string {
	for _, re := range patterns {
		if v := p.LastMatch(re); v != "" {
			return v
		}
	}
	return ""
}

var folder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func fold(s string) string {
	out, _, err := transform.String(folder, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// tail returns at most n trailing bytes of s, starting on a rune boundary.
func tail(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}
