package metrics

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ContentType is the media type of Render's output.
const ContentType = "text/plain; version=0.0.4; charset=utf-8"

type gauge struct {
	name  string
	help  string
	value string
}

// Render writes s as four labeled gauges with HELP and TYPE metadata.
// The blocked percentage always carries two decimals.
func Render(w io.Writer, s Snapshot) error {
	gauges := []gauge{
		{
			name:  "xray_unique_users",
			help:  "Number of unique users in the specified time window",
			value: strconv.FormatInt(s.UniqueClients, 10),
		},
		{
			name:  "xray_total_connections",
			help:  "Total number of connections in the specified time window",
			value: strconv.FormatInt(s.TotalConnections, 10),
		},
		{
			name:  "xray_blocked_requests",
			help:  "Number of blocked requests in the specified time window",
			value: strconv.FormatInt(s.BlockedCount, 10),
		},
		{
			name:  "xray_blocked_percentage",
			help:  "Percentage of blocked requests relative to total connections",
			value: strconv.FormatFloat(s.BlockedPercentage(), 'f', 2, 64),
		},
	}

	label := escapeLabel(s.Donor)

	var b strings.Builder
	for _, g := range gauges {
		fmt.Fprintf(&b, "# HELP %s %s\n", g.name, g.help)
		fmt.Fprintf(&b, "# TYPE %s gauge\n", g.name)
		fmt.Fprintf(&b, "%s{donor=\"%s\"} %s\n", g.name, label, g.value)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, `"`, `\"`)

// escapeLabel escapes a label value per the text exposition format.
func escapeLabel(v string) string {
	return labelEscaper.Replace(v)
}
