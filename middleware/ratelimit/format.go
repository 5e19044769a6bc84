// utilitários pequenos para formatar valores numéricos e esperas em headers e
// mensagens de erro.

package ratelimit

import (
	"strconv"
	"time"
)

func formatInt(v int) string { return strconv.Itoa(v) }

// ceilSeconds arredonda para cima: Retry-After: 0 faria o cliente repetir na hora.
func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

// formatWait escreve a espera do jeito que o frontend já mostra ao usuário
// ("10 minutes", "1 minute", "45 seconds").
func formatWait(d time.Duration) string {
	secs := ceilSeconds(d)
	if secs >= 60 && secs%60 == 0 {
		return plural(secs/60, "minute")
	}
	return plural(secs, "second")
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}
