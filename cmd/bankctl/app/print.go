package app

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"

	v1 "github.com/autopeer-io/bankupdate/pkg/apis/bank/v1"
)

const none = "-"

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func stateTable(state *v1.BankState) *uitable.Table {
	t := uitable.New()
	t.MaxColWidth = 60
	t.AddRow("OUR BANK:", state.OurBank)
	t.AddRow("DESIRED BANK:", orNone(state.DesiredBank))
	t.AddRow("OUR VERSION:", state.OurVersion)
	t.AddRow("OUR EXTRACTED:", when(state.OurExtractTime))
	t.AddRow("OTHER VERSION:", orDash(state.OtherVersion))
	t.AddRow("OTHER EXTRACTED:", when(orNone(state.OtherExtractTime)))
	return t
}

func printState(w io.Writer, state *v1.BankState) error {
	_, err := fmt.Fprintln(w, stateTable(state))
	return err
}

func printStatus(w io.Writer, resp *v1.Response) error {
	t := stateTable(&resp.Banks.BankState)
	t.AddRow("LAST TRIED BANK:", orNone(resp.Banks.LastTriedBank))
	t.AddRow("LAST OK BANK:", orNone(resp.Banks.LastOKBank))
	t.AddRow("PHASE:", orDash(resp.Phase))
	progress := none
	if resp.Progress != nil {
		progress = strconv.Itoa(*resp.Progress) + "%"
	}
	t.AddRow("PROGRESS:", progress)
	if resp.LastError != "" {
		t.AddRow("LAST ERROR:", resp.LastError)
	}
	_, err := fmt.Fprintln(w, t)
	return err
}

// when renders an RFC3339 time with its age; anything else is printed as is.
func when(s string) string {
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return s
	}
	return fmt.Sprintf("%s (%s)", s, humanize.Time(ts))
}

func orNone(s *string) string {
	if s == nil {
		return none
	}
	return *s
}

func orDash(s string) string {
	if s == "" {
		return none
	}
	return s
}
