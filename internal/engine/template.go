package engine

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tbracken/gridpoll/internal/models"
)

// TemplateContext carries everything a path expression can reference.
type TemplateContext struct {
	Now              time.Time
	Device           models.Device
	Profile          models.ConnectionProfile
	TaskID           int64
	DefaultLocalPath string
}

// ExpandPath substitutes the supported tokens into expr. The result is a
// pure function of (expr, now, device, profile, task).
//
// Date tokens: <YYYY> <YY> <MM> <DD>, plus the literal-prefix forms
// <Month MM> and <Day DD>. The presence of <Day DD-1> anywhere in the
// expression shifts every date substitution in that expression back by
// one day.
func ExpandPath(expr string, ctx TemplateContext) string {
	date := ctx.Now
	if strings.Contains(expr, "<Day DD-1>") {
		date = date.AddDate(0, 0, -1)
	}

	// <Day DD-1> is listed ahead of <Day DD> so the longer token wins.
	r := strings.NewReplacer(
		"<Day DD-1>", fmt.Sprintf("Day %02d", date.Day()),
		"<Day DD>", fmt.Sprintf("Day %02d", date.Day()),
		"<Month MM>", fmt.Sprintf("Month %02d", int(date.Month())),
		"<YYYY>", fmt.Sprintf("%04d", date.Year()),
		"<YY>", fmt.Sprintf("%02d", date.Year()%100),
		"<MM>", fmt.Sprintf("%02d", int(date.Month())),
		"<DD>", fmt.Sprintf("%02d", date.Day()),
		"<DeviceName>", ctx.Device.Name,
		"<DeviceAcronym>", ctx.Device.Acronym,
		"<DeviceFolderName>", ctx.Device.FolderName(),
		"<ProfileName>", ctx.Profile.Name,
		"<DeviceID>", strconv.FormatInt(ctx.Device.ID, 10),
		"<TaskID>", strconv.FormatInt(ctx.TaskID, 10),
		"<DeviceFolderPath>", filepath.Join(ctx.DefaultLocalPath, ctx.Device.FolderName()),
	)
	return r.Replace(expr)
}

// NormalizeLocalPath converts an expanded expression into a native local
// path. Directory naming expressions historically use backslash
// separators regardless of platform.
func NormalizeLocalPath(p string) string {
	return filepath.FromSlash(strings.ReplaceAll(p, `\`, "/"))
}
