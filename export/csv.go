// Package export renders the visible deal set to CSV. Every field is
// quoted and embedded quotes are doubled, so free text like a client
// name containing commas or quotes survives a round trip through any
// standard CSV reader. Dates render as calendar dates and amounts as
// plain decimals to stay machine parseable.
package export

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/salesboard/salesboard/models"
)

// Header matches the columns the dashboard has always exported.
var Header = []string{"Date", "Sales Rep", "Client Name", "Amount"}

// Filter decides whether a deal is included. A nil filter includes
// everything; row order always matches input order.
type Filter func(models.Deal) bool

// ByUser filters rows to a single rep.
func ByUser(userID string) Filter {
	return func(d models.Deal) bool {
		return d.UserID == userID
	}
}

// NameResolver builds a user id to display name lookup, falling back to
// "Unknown User" for deals whose owner is gone.
func NameResolver(users []models.User) func(string) string {
	byID := make(map[string]string, len(users))

	for _, u := range users {
		byID[u.ID] = u.Name
	}

	return func(id string) string {
		if name, ok := byID[id]; ok {
			return name
		}

		return "Unknown User"
	}
}

// WriteDeals encodes deals to w, one row per deal passing filter.
func WriteDeals(w io.Writer, deals []models.Deal, nameFor func(string) string, filter Filter) error {
	if err := writeRecord(w, Header); err != nil {
		return err
	}

	for i := range deals {
		if filter != nil && !filter(deals[i]) {
			continue
		}

		client := deals[i].ClientName
		if client == "" {
			client = "-"
		}

		record := []string{
			deals[i].CreatedAt.Format("2006-01-02"),
			nameFor(deals[i].UserID),
			client,
			formatAmount(deals[i].Value),
		}

		if err := writeRecord(w, record); err != nil {
			return err
		}
	}

	return nil
}

// Encode is WriteDeals into a string, for callers handing the blob to a
// download response.
func Encode(deals []models.Deal, nameFor func(string) string, filter Filter) (string, error) {
	var sb strings.Builder

	if err := WriteDeals(&sb, deals, nameFor, filter); err != nil {
		return "", err
	}

	return sb.String(), nil
}

// Filename returns the conventional export file name for a given day.
func Filename(now time.Time) string {
	return "sales_data_" + now.Format("2006-01-02") + ".csv"
}

func writeRecord(w io.Writer, fields []string) error {
	for i, field := range fields {
		if i > 0 {
			if _, err := io.WriteString(w, ","); err != nil {
				return err
			}
		}

		quoted := `"` + strings.ReplaceAll(field, `"`, `""`) + `"`

		if _, err := io.WriteString(w, quoted); err != nil {
			return err
		}
	}

	_, err := io.WriteString(w, "\n")

	return err
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
