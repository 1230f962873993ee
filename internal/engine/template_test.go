package engine

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tbracken/gridpoll/internal/models"
)

func templateCtx() TemplateContext {
	return TemplateContext{
		Now: time.Date(2024, 3, 10, 14, 30, 0, 0, time.Local),
		Device: models.Device{
			ID:             7,
			Acronym:        "SUB1",
			Name:           "Substation One",
			OriginalSource: "Sub_One",
		},
		Profile:          models.ConnectionProfile{ID: 3, Name: "Daily"},
		TaskID:           42,
		DefaultLocalPath: "/data/downloads",
	}
}

func TestExpandPathDateTokens(t *testing.T) {
	ctx := templateCtx()

	tests := []struct {
		expr string
		want string
	}{
		{"<YYYY>", "2024"},
		{"<YY>", "24"},
		{"<MM>", "03"},
		{"<DD>", "10"},
		{"<Month MM>", "Month 03"},
		{"<Day DD>", "Day 10"},
		{"<YYYY><MM><DD>", "20240310"},
		{"/remote/<YYYY>/<MM>", "/remote/2024/03"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExpandPath(tt.expr, ctx), "expr %q", tt.expr)
	}
}

func TestExpandPathDeviceTokens(t *testing.T) {
	ctx := templateCtx()

	assert.Equal(t, "Substation One", ExpandPath("<DeviceName>", ctx))
	assert.Equal(t, "SUB1", ExpandPath("<DeviceAcronym>", ctx))
	assert.Equal(t, "Sub_One", ExpandPath("<DeviceFolderName>", ctx))
	assert.Equal(t, "Daily", ExpandPath("<ProfileName>", ctx))
	assert.Equal(t, "7", ExpandPath("<DeviceID>", ctx))
	assert.Equal(t, "42", ExpandPath("<TaskID>", ctx))
	assert.Equal(t, filepath.Join("/data/downloads", "Sub_One"), ExpandPath("<DeviceFolderPath>", ctx))

	// Folder name falls back to the acronym without an original source.
	ctx.Device.OriginalSource = ""
	assert.Equal(t, "SUB1", ExpandPath("<DeviceFolderName>", ctx))
}

// TestExpandPathYesterdayShiftsAllTokens: the presence of <Day DD-1>
// shifts every date substitution in the expression back one day.
func TestExpandPathYesterdayShiftsAllTokens(t *testing.T) {
	ctx := templateCtx() // March 10

	assert.Equal(t, "Day 09", ExpandPath("<Day DD-1>", ctx))
	assert.Equal(t, "2024/03/09/Day 09", ExpandPath("<YYYY>/<MM>/<DD>/<Day DD-1>", ctx))

	// Month boundary: March 1 shifts into February.
	ctx.Now = time.Date(2024, 3, 1, 8, 0, 0, 0, time.Local)
	assert.Equal(t, "2024/02/29/Day 29", ExpandPath("<YYYY>/<MM>/<DD>/<Day DD-1>", ctx))

	// Without the trigger token nothing shifts.
	assert.Equal(t, "2024/03/01", ExpandPath("<YYYY>/<MM>/<DD>", ctx))
}

func TestExpandPathIsPure(t *testing.T) {
	ctx := templateCtx()
	expr := `<YYYY><MM>\<DeviceFolderName>\<Day DD-1>`
	first := ExpandPath(expr, ctx)
	second := ExpandPath(expr, ctx)
	assert.Equal(t, first, second)
}

func TestNormalizeLocalPath(t *testing.T) {
	got := NormalizeLocalPath(`202403\Sub_One`)
	assert.Equal(t, filepath.Join("202403", "Sub_One"), got)
}

func TestDefaultDirectoryNamingExpression(t *testing.T) {
	ctx := templateCtx()
	got := NormalizeLocalPath(ExpandPath(models.DefaultDirectoryNamingExpression, ctx))
	assert.Equal(t, filepath.Join("202403", "Sub_One"), got)
}
