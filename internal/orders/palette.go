package orders

import (
	"strings"

	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/pkg/models"
)

// NeutralColor is used for statuses with no tenant definition and no default.
const NeutralColor = "#6B7280"

var DefaultPalette = map[models.OrderStatus]string{
	models.StatusPending:    "#F59E0B",
	models.StatusProcessing: "#3B82F6",
	models.StatusCompleted:  "#10B981",
	models.StatusCanceled:   "#EF4444",
}

// ResolveColor returns the display color for status: the first tenant
// definition whose name matches case-insensitively, else the default palette.
func ResolveColor(status string, definitions []models.StatusDefinition) string {
	name := strings.TrimSpace(status)
	for _, def := range definitions {
		if def.Color != "" && strings.EqualFold(strings.TrimSpace(def.Name), name) {
			return def.Color
		}
	}
	if st, ok := models.ParseStatus(name); ok {
		return DefaultPalette[st]
	}
	return NeutralColor
}
