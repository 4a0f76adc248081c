package logger

import "testing"

func TestOperationFromSQL(t *testing.T) {
	cases := map[string]string{
		"SELECT * FROM invoices":                        "SELECT",
		"  update work_entries set invoice_id = 1":      "UPDATE",
		"WITH due AS (SELECT 1) DELETE FROM invoices":   "SELECT",
		"INSERT INTO payment_events (id) VALUES (1)":    "INSERT",
		"":                                              "UNKNOWN",
		"CREATE TABLE invoices (id BIGINT PRIMARY KEY)": "UNKNOWN",
	}
	for sql, want := range cases {
		if got := operationFromSQL(sql); got != want {
			t.Fatalf("operationFromSQL(%q) = %q, want %q", sql, got, want)
		}
	}
}
