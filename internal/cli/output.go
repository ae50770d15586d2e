package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// Output форматирует ответы API для терминала.
//
// Данные пишутся в stdout (таблица или JSON по флагу --json),
// служебные сообщения — в stderr, чтобы не ломать пайпы вида
// `cascade run list --json | jq`.
type Output struct {
	asJSON bool
	data   io.Writer
	msg    io.Writer
}

// NewOutput создаёт Output поверх stdout/stderr.
func NewOutput(asJSON bool) *Output {
	return &Output{
		asJSON: asJSON,
		data:   os.Stdout,
		msg:    os.Stderr,
	}
}

// Print выводит данные в выбранном режиме: таблицей или как JSON.
func (o *Output) Print(headers []string, rows [][]string, jsonData any) {
	if o.asJSON {
		o.JSON(jsonData)
		return
	}
	o.Table(headers, rows)
}

// Table выводит выровненную таблицу с заголовком и подчёркиванием.
func (o *Output) Table(headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(o.data, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, strings.Join(headers, "\t"))

	rule := make([]string, len(headers))
	for i, h := range headers {
		rule[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(tw, strings.Join(rule, "\t"))

	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	tw.Flush()
}

// JSON выводит значение с отступами.
func (o *Output) JSON(v any) {
	enc := json.NewEncoder(o.data)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// Success пишет информационное сообщение в stderr.
func (o *Output) Success(text string) {
	fmt.Fprintln(o.msg, text)
}
