package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFold(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Imóvel", "imovel"},
		{"  SERVIÇOS ", "servicos"},
		{"Crédito", "credito"},
		{"Valor do Crédito", "valor do credito"},
		{"auto", "auto"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Fold(tt.in), "Fold(%q)", tt.in)
	}
}
