package brokerage

import (
	"regexp"
	"strings"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"

	"github.com/nestegg-fi/nestegg/internal/model"
)

// decomposeStatement turns one investment statement into the raw balance the
// normalizer expects: available cash plus one entry per position. The
// statement's own total is deliberately not trusted; some feeds exclude cash
// or unpriced positions from it.
func decomposeStatement(stmt *ofxgo.InvStatementResponse, tickers map[string]string) model.RawBalance {
	balance := model.RawBalance{}

	if stmt.InvBal != nil {
		balance.Cash = amountDecimal(stmt.InvBal.AvailCash).StringFixed(2)
	}

	for _, position := range stmt.InvPosList {
		info, ok := positionDetail(position)
		if !ok {
			continue
		}
		balance.Positions = append(balance.Positions, model.RawPosition{
			Symbol:      symbolFor(info, tickers),
			Quantity:    amountDecimal(info.Units).String(),
			MarketValue: amountDecimal(info.MktVal).StringFixed(2),
		})
	}

	return balance
}

// positionDetail extracts the common INVPOS aggregate that every typed
// position wraps. Position types this feed never produces fall through.
func positionDetail(position ofxgo.Position) (ofxgo.InvPosition, bool) {
	switch p := position.(type) {
	case ofxgo.StockPosition:
		return p.InvPos, true
	case ofxgo.MFPosition:
		return p.InvPos, true
	case ofxgo.DebtPosition:
		return p.InvPos, true
	case ofxgo.OptPosition:
		return p.InvPos, true
	case ofxgo.OtherPosition:
		return p.InvPos, true
	default:
		return ofxgo.InvPosition{}, false
	}
}

// securityDetail extracts the common SECINFO aggregate from a typed
// security-list entry.
func securityDetail(security ofxgo.Security) (ofxgo.SecInfo, bool) {
	switch s := security.(type) {
	case ofxgo.StockInfo:
		return s.SecInfo, true
	case ofxgo.MFInfo:
		return s.SecInfo, true
	case ofxgo.DebtInfo:
		return s.SecInfo, true
	case ofxgo.OptInfo:
		return s.SecInfo, true
	case ofxgo.OtherInfo:
		return s.SecInfo, true
	default:
		return ofxgo.SecInfo{}, false
	}
}

// tickersBySecurityID indexes the response's security list so positions,
// which carry only CUSIP-style identifiers, resolve to tradable symbols.
func tickersBySecurityID(resp *ofxgo.Response) map[string]string {
	tickers := make(map[string]string)
	for _, msg := range resp.SecList {
		list, ok := msg.(*ofxgo.SecurityList)
		if !ok {
			continue
		}
		for _, security := range list.Securities {
			info, ok := securityDetail(security)
			if !ok {
				continue
			}
			if ticker := strings.ToUpper(string(info.Ticker)); ticker != "" {
				tickers[string(info.SecID.UniqueID)] = ticker
			}
		}
	}
	return tickers
}

// symbolFor prefers the security list's ticker, falling back to the raw
// unique id so an unlisted position still shows up.
func symbolFor(info ofxgo.InvPosition, tickers map[string]string) string {
	uniqueID := string(info.SecID.UniqueID)
	if ticker, ok := tickers[uniqueID]; ok {
		return ticker
	}
	return uniqueID
}

// amountDecimal converts an OFX amount (a big.Rat) without accumulating
// float drift.
func amountDecimal(amount ofxgo.Amount) decimal.Decimal {
	value, err := decimal.NewFromString(amount.Rat.FloatString(8))
	if err != nil {
		return decimal.Zero
	}
	return value
}

var (
	severityRegex = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	tagFixRegex   = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
)

// preprocessOFX fixes common formatting issues in OFX feeds before parsing:
// mixed-case SEVERITY values and SGML-style tags missing their closing
// angle bracket.
func preprocessOFX(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")

	content = severityRegex.ReplaceAllStringFunc(content, strings.ToUpper)
	content = tagFixRegex.ReplaceAllString(content, "$1>")

	return content
}
