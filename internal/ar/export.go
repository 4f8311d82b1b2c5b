package ar

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

const (
	csvFlushEvery = 200
	csvBufferSize = 32 * 1024
)

type csvStreamer struct {
	buf          *bufio.Writer
	csv          *csv.Writer
	flushEvery   int
	pendingLines int
}

func newCSVStreamer(w io.Writer) *csvStreamer {
	buf := bufio.NewWriterSize(w, csvBufferSize)
	writer := csv.NewWriter(buf)
	writer.UseCRLF = true
	return &csvStreamer{buf: buf, csv: writer, flushEvery: csvFlushEvery}
}

func (s *csvStreamer) writeComment(line string) error {
	if s == nil || s.buf == nil {
		return fmt.Errorf("csv streamer not initialised")
	}
	if !strings.HasSuffix(line, "\r\n") {
		line = strings.TrimSuffix(line, "\n")
		line += "\r\n"
	}
	if _, err := s.buf.WriteString(line); err != nil {
		return err
	}
	return nil
}

func (s *csvStreamer) writeRow(row []string) error {
	if s == nil || s.csv == nil {
		return fmt.Errorf("csv streamer not initialised")
	}
	if err := s.csv.Write(row); err != nil {
		return err
	}
	s.pendingLines++
	if s.flushEvery > 0 && s.pendingLines >= s.flushEvery {
		return s.Flush()
	}
	return nil
}

func (s *csvStreamer) Flush() error {
	if s == nil || s.csv == nil || s.buf == nil {
		return fmt.Errorf("csv streamer not initialised")
	}
	s.csv.Flush()
	if err := s.csv.Error(); err != nil {
		return err
	}
	if err := s.buf.Flush(); err != nil {
		return err
	}
	s.pendingLines = 0
	return nil
}

func (s *csvStreamer) Close() error {
	return s.Flush()
}

// amountPrinter renders header amounts with digit grouping for human
// readers. Data rows stay plain so spreadsheets parse them as numbers.
var amountPrinter = message.NewPrinter(language.English)

func writeStatementCSV(w io.Writer, st Statement) error {
	streamer := newCSVStreamer(w)
	if err := streamer.writeComment(fmt.Sprintf("# Statement of Account: %s", st.CustomerName)); err != nil {
		return err
	}
	if err := streamer.writeComment(fmt.Sprintf("# Customer: %d | Period: %s", st.CustomerID, st.Period.Label())); err != nil {
		return err
	}
	if err := streamer.writeComment(amountPrinter.Sprintf("# Opening Balance: %.2f | Closing Balance: %.2f", st.OpeningBalance, st.ClosingBalance)); err != nil {
		return err
	}
	if err := streamer.writeComment(amountPrinter.Sprintf("# Period Sales: %.2f | Period Payments: %.2f", st.PeriodSales, st.PeriodPayments)); err != nil {
		return err
	}
	if err := streamer.writeRow([]string{"Date", "Kind", "Reference", "Debit", "Credit", "Balance"}); err != nil {
		return err
	}
	for _, line := range st.Lines {
		if err := streamer.writeRow([]string{
			line.Date.Format("2006-01-02"),
			string(line.Kind),
			line.Reference,
			formatAmount(line.Debit),
			formatAmount(line.Credit),
			formatAmount(line.Balance),
		}); err != nil {
			return err
		}
	}
	if err := streamer.writeRow([]string{"", "", "", "", "", ""}); err != nil {
		return err
	}
	if err := streamer.writeRow([]string{"", "Closing", "", "", "", formatAmount(st.ClosingBalance)}); err != nil {
		return err
	}
	return streamer.Close()
}

func formatAmount(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

// exportStatement streams a monthly statement as CSV.
func (h *Handler) exportStatement(w http.ResponseWriter, r *http.Request) {
	customerID, year, month, ok := h.statementParams(w, r)
	if !ok {
		return
	}
	st, err := h.buildStatementShared(r, customerID, year, month)
	if err != nil {
		h.logger.Error("export statement", slog.Int64("customer_id", customerID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	filename := fmt.Sprintf("statement-%d-%s.csv", st.CustomerID, st.Period.Label())
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := writeStatementCSV(w, st); err != nil {
		h.logger.Error("stream statement csv", slog.Int64("customer_id", customerID), slog.Any("error", err))
	}
}
