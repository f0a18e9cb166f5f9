package extract

import (
	"regexp"
	"strconv"
)

// debugMarker identifies auto-bet state lines.
var debugMarker = regexp.MustCompile(`\bactive=(?:true|false)\b.*\bwasActive=`)

// debugFields captures the six state fields. Every group is optional so a
// truncated line still yields the fields it has.
var debugFields = regexp.MustCompile(`^` +
	`(?:.*?\bactive=(?P<active>true|false))?` +
	`(?:.*?\bwasActive=(?P<wasActive>true|false))?` +
	`(?:.*?\bautobuysEnabled=(?P<autobuysEnabled>true|false))?` +
	`(?:.*?\bpendingDisableAutobets=(?P<pendingDisableAutobets>true|false))?` +
	`(?:.*?\bautoRoundsCompleted=(?P<autoRoundsCompleted>-?\d+))?` +
	`(?:.*?\bpnl=(?P<pnl>-?[0-9.]+(?:[eE][-+]?\d+)?))?`)

// ParseDebugSignal parses an auto-bet state line. Booleans that are missing
// are false; autoRoundsCompleted and pnl are omitted when missing or invalid.
func ParseDebugSignal(line string) (map[string]any, bool) {
	if !debugMarker.MatchString(line) {
		return nil, false
	}
	m := debugFields.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}
	group := func(name string) string {
		return m[debugFields.SubexpIndex(name)]
	}

	payload := map[string]any{
		"active":                 group("active") == "true",
		"wasActive":              group("wasActive") == "true",
		"autobuysEnabled":        group("autobuysEnabled") == "true",
		"pendingDisableAutobets": group("pendingDisableAutobets") == "true",
	}
	if n, err := strconv.Atoi(group("autoRoundsCompleted")); err == nil {
		payload["autoRoundsCompleted"] = n
	}
	if f, err := strconv.ParseFloat(group("pnl"), 64); err == nil {
		payload["pnl"] = f
	}
	return payload, true
}
