package templates

import (
	"context"
	"fmt"
	"html"
	"io"

	"github.com/a-h/templ"
)

const pageStyle = `body{font-family:system-ui,sans-serif;display:flex;align-items:center;` +
	`justify-content:center;min-height:100vh;margin:0;background:#f5f6fa}` +
	`.card{background:#fff;border-radius:12px;padding:2.5rem 3rem;box-shadow:0 2px 12px rgba(0,0,0,.08);` +
	`text-align:center;max-width:24rem}` +
	`h1{font-size:1.25rem;margin:0 0 .5rem}p{color:#555;margin:0}` +
	`.ok h1{color:#1a7f4b}.err h1{color:#b3261e}`

// SuccessPage is the browser page shown after a completed connect
// handshake. It closes its own window after the configured delay.
func SuccessPage(props SuccessPageProps) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		name := props.DisplayName
		if name == "" {
			name = props.Provider
		}
		_, err := fmt.Fprintf(w,
			`<!DOCTYPE html><html><head><title>Account connected</title><style>%s</style></head>`+
				`<body class="ok"><div class="card"><h1>%s connected</h1>`+
				`<p>You can close this window. It will close itself shortly.</p></div>`+
				`<script>setTimeout(function(){window.close()},%d)</script></body></html>`,
			pageStyle,
			html.EscapeString(name),
			props.CloseDelay.Milliseconds(),
		)
		return err
	})
}

// ErrorPage is the browser page shown when a connect handshake fails. A
// zero close delay leaves the window open.
func ErrorPage(props ErrorPageProps) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		closeScript := ""
		if props.CloseDelay > 0 {
			closeScript = fmt.Sprintf(
				`<script>setTimeout(function(){window.close()},%d)</script>`,
				props.CloseDelay.Milliseconds(),
			)
		}
		_, err := fmt.Fprintf(w,
			`<!DOCTYPE html><html><head><title>Connection failed</title><style>%s</style></head>`+
				`<body class="err"><div class="card"><h1>Connection failed</h1><p>%s</p></div>%s</body></html>`,
			pageStyle,
			html.EscapeString(props.Message),
			closeScript,
		)
		return err
	})
}
