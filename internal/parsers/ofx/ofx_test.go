package ofx

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rumor-ml/commons.systems/ledgersync/internal/parser"
)

const ofxHeader = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<DTSERVER>20240101120000
<LANGUAGE>ENG
<FI>
<ORG>TESTBANK
<FID>12345
</FI>
</SONRS>
</SIGNONMSGSRSV1>
`

// bankStatement wraps STMTTRN blocks in a checking account statement
func bankStatement(acctID, txns string) string {
	return ofxHeader + fmt.Sprintf(`<BANKMSGSRSV1>
<STMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<STMTRS>
<CURDEF>USD
<BANKACCTFROM>
<BANKID>123456789
<ACCTID>%s
<ACCTTYPE>CHECKING
</BANKACCTFROM>
<BANKTRANLIST>
<DTSTART>20240101000000
<DTEND>20240131235959
%s</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>2000.00
<DTASOF>20240131235959
</LEDGERBAL>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>`, acctID, txns)
}

// cardStatement wraps STMTTRN blocks in a credit card statement
func cardStatement(acctID, txns string) string {
	return ofxHeader + fmt.Sprintf(`<CREDITCARDMSGSRSV1>
<CCSTMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<CCSTMTRS>
<CURDEF>USD
<CCACCTFROM>
<ACCTID>%s
</CCACCTFROM>
<BANKTRANLIST>
<DTSTART>20240101000000
<DTEND>20240131235959
%s</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>-500.00
<DTASOF>20240131235959
</LEDGERBAL>
</CCSTMTRS>
</CCSTMTTRNRS>
</CREDITCARDMSGSRSV1>
</OFX>`, acctID, txns)
}

func stmtTrn(trnType, posted, amount, fitID, name, memo string) string {
	var b strings.Builder
	b.WriteString("<STMTTRN>\n<TRNTYPE>" + trnType + "\n")
	if posted != "" {
		b.WriteString("<DTPOSTED>" + posted + "\n")
	}
	b.WriteString("<TRNAMT>" + amount + "\n<FITID>" + fitID + "\n")
	if name != "" {
		b.WriteString("<NAME>" + name + "\n")
	}
	if memo != "" {
		b.WriteString("<MEMO>" + memo + "\n")
	}
	b.WriteString("</STMTTRN>\n")
	return b.String()
}

func TestName(t *testing.T) {
	p := NewParser()
	if got := p.Name(); got != "ofx" {
		t.Errorf("Name() = %q, want %q", got, "ofx")
	}
}

func TestCanParse(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		header   string
		expected bool
	}{
		{name: "OFX file with OFXHEADER marker", path: "test.ofx", header: "OFXHEADER:100\nDATA:OFXSGML\n", expected: true},
		{name: "OFX file with XML header", path: "test.ofx", header: "<?xml version=\"1.0\"?><?OFX OFXHEADER=\"200\"?>\n", expected: true},
		{name: "OFX file with OFX tag", path: "test.ofx", header: "<OFX><SIGNONMSGSRSV1>", expected: true},
		{name: "QFX extension uppercase", path: "test.QFX", header: "OFXHEADER:100\n", expected: true},
		{name: "OFX file without valid header", path: "test.ofx", header: "This is not OFX content", expected: false},
		{name: "CSV with OFX-looking content", path: "test.csv", header: "OFXHEADER:100\n", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewParser().CanParse(tt.path, []byte(tt.header)); got != tt.expected {
				t.Errorf("CanParse() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParse_BankStatement(t *testing.T) {
	content := bankStatement("9876543210",
		stmtTrn("DEBIT", "20240105120000", "-50.00", "TXN001", "COFFEE  SHOP  #12", "")+
			stmtTrn("CREDIT", "20240115120000", "1000.00", "TXN002", "Paycheck", ""))

	meta, err := parser.NewMetadata("/sources/Checking/statement.ofx", time.Now())
	if err != nil {
		t.Fatalf("failed to create metadata: %v", err)
	}

	batch, err := NewParser().Parse(context.Background(), strings.NewReader(content), meta)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if batch.Kind() != parser.KindPosted {
		t.Errorf("Kind() = %s, want posted", batch.Kind())
	}
	if batch.Account() != "9876543210" {
		t.Errorf("Account() = %q, want %q", batch.Account(), "9876543210")
	}
	if batch.Len() != 2 {
		t.Fatalf("got %d records, want 2", batch.Len())
	}

	recs := batch.Records()
	// Money out in OFX becomes a positive charge in export convention
	if recs[0].Amount() != "50.0000" {
		t.Errorf("Record[0].Amount = %q, want %q", recs[0].Amount(), "50.0000")
	}
	if recs[0].Date() != "2024-01-05" {
		t.Errorf("Record[0].Date = %q, want %q", recs[0].Date(), "2024-01-05")
	}
	if recs[0].Description() != "COFFEE  SHOP  #12" {
		t.Errorf("Record[0].Description = %q", recs[0].Description())
	}
	if recs[0].Reference() != "TXN001" {
		t.Errorf("Record[0].Reference = %q", recs[0].Reference())
	}
	if recs[1].Amount() != "-1000.0000" {
		t.Errorf("Record[1].Amount = %q, want %q", recs[1].Amount(), "-1000.0000")
	}
}

func TestParse_CreditCard(t *testing.T) {
	content := cardStatement("4111111111111111",
		stmtTrn("DEBIT", "20240110120000", "-25.99", "CC001", "", "Amazon Purchase"))

	batch, err := NewParser().Parse(context.Background(), strings.NewReader(content), nil)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if batch.Account() != "4111111111111111" {
		t.Errorf("Account() = %q", batch.Account())
	}
	if batch.Len() != 1 {
		t.Fatalf("got %d records, want 1", batch.Len())
	}
	rec := batch.Records()[0]
	if rec.Description() != "Amazon Purchase" {
		t.Errorf("Description = %q, want memo fallback %q", rec.Description(), "Amazon Purchase")
	}
	if rec.Amount() != "25.9900" {
		t.Errorf("Amount = %q, want %q", rec.Amount(), "25.9900")
	}
}

func TestParse_MissingDates(t *testing.T) {
	content := bankStatement("9876543210", stmtTrn("DEBIT", "", "-5.00", "TXN009", "Nowhere", ""))

	_, err := NewParser().Parse(context.Background(), strings.NewReader(content), nil)
	if err == nil {
		t.Fatal("Parse() expected error for transaction without dates")
	}
	if !strings.Contains(err.Error(), "missing both posted date and user date") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParse_InvalidOFX(t *testing.T) {
	meta, _ := parser.NewMetadata("/sources/Checking/broken.ofx", time.Now())
	_, err := NewParser().Parse(context.Background(), strings.NewReader("OFXHEADER:100\n<OFX>garbage"), meta)
	if err == nil {
		t.Fatal("Parse() expected error for malformed OFX")
	}
	if !strings.Contains(err.Error(), "broken.ofx") {
		t.Errorf("error should name the file: %v", err)
	}
}

func TestParse_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewParser().Parse(ctx, strings.NewReader(bankStatement("1", "")), nil)
	if err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
