package report

import (
	"bytes"
	"os"
	"path/filepath"
	"text/template"
	"time"

	"github.com/rustyeddy/perpbt/backtest"
)

// Org writes an org-mode run journal entry to Path.
type Org struct {
	Path  string
	Notes []string
}

var orgFuncs = template.FuncMap{
	"mul100": func(x float64) float64 { return x * 100.0 },
	"date": func(t time.Time) string {
		if t.IsZero() {
			return "(date?)"
		}
		return t.UTC().Format("2006-01-02")
	},
	"stamp": stamp,
}

var orgTemplate = template.Must(template.New("backtest").Funcs(orgFuncs).Parse(OrgTemplate))

func (o Org) Write(res *backtest.Result) error {
	buf, err := o.Render(res)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(o.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(o.Path, buf, 0o644)
}

func (o Org) Render(res *backtest.Result) ([]byte, error) {
	buf := new(bytes.Buffer)
	err := orgTemplate.Execute(buf, struct {
		*backtest.Result
		R     backtest.Report
		Notes []string
	}{res, res.Report, o.Notes})
	return buf.Bytes(), err
}

const OrgTemplate = `* BACKTEST: {{.R.Strategy}} {{.R.Instrument}} {{.R.Interval}}
:PROPERTIES:
:RUN_ID:      {{.RunID}}
:STRATEGY:    {{.R.Strategy}}
:INTERVAL:    {{.R.Interval}}
:INSTRUMENT:  {{.R.Instrument}}
:START_DATE:  {{date .R.Start}}
:END_DATE:    {{date .R.End}}
:BARS:        {{.R.Bars}}
:START_BAL:   {{printf "%.2f" .R.InitialCapital}}
:END_BAL:     {{printf "%.2f" .R.FinalEquity}}
:NET_PL:      {{printf "%.2f" .R.NetPnL}}
:RETURN_PCT:  {{printf "%.2f" (mul100 .R.TotalReturn)}}
:MAX_DD_PCT:  {{printf "%.2f" (mul100 .R.MaxDrawdown)}}
:SHARPE:      {{printf "%.2f" .R.Sharpe}}
:TRADES:      {{.R.Trades.Closing}}
:WINS:        {{.R.Trades.Wins}}
:LOSSES:      {{.R.Trades.Losses}}
:WIN_RATE:    {{printf "%.2f" (mul100 .R.Trades.WinRate)}}
:PROFIT_FAC:  {{if ne .R.Trades.ProfitFactor 0.0}}{{printf "%.2f" .R.Trades.ProfitFactor}}{{else}}(no-losses){{end}}
:TRUNCATED:   {{.Truncated}}
:END:

** P/L Breakdown
| Component  | Amount |
|------------+--------|
| Trading    | {{printf "%.2f" .R.TradingPnL}} |
| Funding    | {{printf "%.2f" .R.FundingPnL}} |
| Commission | {{printf "%.2f" .R.Commission}} |
| Unrealized | {{printf "%.2f" .R.UnrealizedPnL}} |

** Funding
- Received:     *{{printf "%.2f" .R.Funding.Received}}* ({{.R.Funding.ReceivedCount}})
- Paid:         *{{printf "%.2f" .R.Funding.Paid}}* ({{.R.Funding.PaidCount}})
- Efficiency:   *{{printf "%.2f" .R.Funding.Efficiency}}*
- Rate mean:    *{{printf "%.4f" (mul100 .R.Funding.Distribution.Mean)}}%*
- Rate median:  *{{printf "%.4f" (mul100 .R.Funding.Distribution.Median)}}%*
- Rate vol:     *{{printf "%.4f" (mul100 .R.Funding.Distribution.StdDev)}}%*
- Positive:     *{{printf "%.2f" (mul100 .R.Funding.Direction.PositivePct)}}%* ({{.R.Funding.Direction.Positive}})
- Negative:     *{{printf "%.2f" (mul100 .R.Funding.Direction.NegativePct)}}%* ({{.R.Funding.Direction.Negative}})

** Trade Distribution
| Outcome | Count |
|---------+-------|
| Wins    | {{.R.Trades.Wins}} |
| Losses  | {{.R.Trades.Losses}} |
| Total   | {{.R.Trades.Closing}} |

{{- if .Diagnostics }}

** Diagnostics
{{- range .Diagnostics }}
- {{stamp .Time}} {{.Kind}} {{.Code}} {{.Msg}}
{{- end }}
{{- end }}

{{- if .Notes }}

** Observations
{{- range .Notes }}
- {{.}}
{{- end }}
{{- end }}
`
