package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/sosodev/duration"
	"github.com/zclconf/go-cty/cty"
)

// GetDuration evaluates expr as a duration. It accepts a number of seconds,
// an ISO 8601 duration such as "PT30S", or a Go duration such as "30s".
// ok is false when the attribute was omitted or set to null.
func GetDuration(expr hcl.Expression, evalCtx *hcl.EvalContext) (d time.Duration, ok bool, diags hcl.Diagnostics) {
	if expr == nil {
		return 0, false, nil
	}

	val, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return 0, false, diags
	}

	if val.IsNull() {
		return 0, false, diags
	}

	if !val.IsKnown() {
		return 0, false, diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid duration",
			Detail:   "Duration must be a known value",
			Subject:  expr.Range().Ptr(),
		})
	}

	switch val.Type() {
	case cty.Number:
		seconds, _ := val.AsBigFloat().Float64()
		if seconds < 0 {
			return 0, false, diags.Append(negativeDuration(expr))
		}
		return time.Duration(seconds * float64(time.Second)), true, diags

	case cty.String:
		str := strings.TrimSpace(val.AsString())

		if strings.HasPrefix(str, "P") {
			dur, err := duration.Parse(str)
			if err != nil {
				return 0, false, diags.Append(&hcl.Diagnostic{
					Severity: hcl.DiagError,
					Summary:  "Invalid ISO 8601 duration",
					Detail:   fmt.Sprintf("Failed to parse ISO 8601 duration '%s': %v", str, err),
					Subject:  expr.Range().Ptr(),
				})
			}

			timeDuration := dur.ToTimeDuration()
			if timeDuration < 0 {
				return 0, false, diags.Append(negativeDuration(expr))
			}
			return timeDuration, true, diags
		}

		timeDuration, err := time.ParseDuration(str)
		if err != nil {
			return 0, false, diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid duration format",
				Detail:   fmt.Sprintf("Failed to parse duration '%s': %v. Expected a number (seconds), ISO 8601 duration (e.g., 'PT5M'), or Go duration (e.g., '5m')", str, err),
				Subject:  expr.Range().Ptr(),
			})
		}
		if timeDuration < 0 {
			return 0, false, diags.Append(negativeDuration(expr))
		}
		return timeDuration, true, diags

	default:
		return 0, false, diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid duration type",
			Detail:   fmt.Sprintf("Duration must be a number (seconds) or string, got %s", val.Type().FriendlyName()),
			Subject:  expr.Range().Ptr(),
		})
	}
}

func negativeDuration(expr hcl.Expression) *hcl.Diagnostic {
	return &hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  "Invalid duration",
		Detail:   "Duration must be positive",
		Subject:  expr.Range().Ptr(),
	}
}
