// Package message renders junction options as chat-ready text blocks (pt-BR).
package message

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/codecalc/junction-engine/internal/textutil"
	"github.com/codecalc/junction-engine/pkg/models"
)

// MaxBlocks is how many options JoinBlocks renders.
const MaxBlocks = 3

const (
	closingQuestion = "Qual dessas opções mais te interessou?"
	separator       = "————————————————————"
)

var emojis = map[string]string{
	"imovel":   "🏠🏠",
	"auto":     "🚗🚗",
	"servicos": "🛠️🛠️",
}

// FormatBRL formats v as Brazilian reais, e.g. "R$ 1.234,56".
func FormatBRL(v float64) string {
	p := message.NewPrinter(language.BrazilianPortuguese)
	return "R$ " + p.Sprintf("%.2f", v)
}

// OnlyDDMM reduces a date string to "dd/mm". Unrecognised input is returned trimmed.
func OnlyDDMM(date string) string {
	date = strings.TrimSpace(date)
	if date == "" {
		return ""
	}
	if len(date) == 5 && date[2] == '/' {
		return date
	}
	if strings.Contains(date, "/") {
		parts := strings.Split(date, "/")
		if len(parts) >= 2 {
			return zeroPad(parts[0]) + "/" + zeroPad(parts[1])
		}
	}
	if t, err := time.Parse("2006-01-02", date); err == nil {
		return t.Format("02/01")
	}
	return date
}

func zeroPad(s string) string {
	if len(s) < 2 {
		return strings.Repeat("0", 2-len(s)) + s
	}
	return s
}

// NormalizeType maps free-form type names onto the canonical labels.
func NormalizeType(tipo string) string {
	switch textutil.Fold(tipo) {
	case "":
		return ""
	case "imovel":
		return "Imóvel"
	case "auto":
		return "Auto"
	case "servicos":
		return "Serviços"
	}
	r := []rune(strings.ToLower(strings.TrimSpace(tipo)))
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// EmojisForType returns the decoration for a type, or "" when unknown.
func EmojisForType(tipo string) string {
	return emojis[textutil.Fold(tipo)]
}

// BlockMessage renders one option.
func BlockMessage(opt models.JunctionOption) string {
	tipo := NormalizeType(opt.Type)
	installments := strings.ReplaceAll(opt.Installments, " | ", "\n")

	var b strings.Builder
	b.WriteString("🔵 " + strings.TrimSpace(opt.Administrator) + " " + tipo + " " + EmojisForType(tipo) + "\n\n")
	b.WriteString("🧾 Crédito: " + FormatBRL(opt.CreditTotal) + "\n")
	b.WriteString("💰 Entrada: " + FormatBRL(opt.Entry) + "\n")
	b.WriteString("💸 Parcelas:\n" + installments + "\n\n")
	b.WriteString("📅 Vencimento: " + OnlyDDMM(opt.NearestDueDate) + "\n")
	b.WriteString("⚠ Taxa de cadastro/transferência à consultar\n")
	b.WriteString(separator)
	return b.String()
}

// JoinBlocks renders the first MaxBlocks options followed by the closing
// question. It returns "" when there is nothing to offer.
func JoinBlocks(options []models.JunctionOption) string {
	if len(options) == 0 {
		return ""
	}
	if len(options) > MaxBlocks {
		options = options[:MaxBlocks]
	}
	blocks := make([]string, len(options))
	for i, opt := range options {
		blocks[i] = BlockMessage(opt)
	}
	return strings.Join(blocks, "\n\n") + "\n\n" + closingQuestion
}
