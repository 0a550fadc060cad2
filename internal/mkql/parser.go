package mkql

import (
	"fmt"
	"strings"
)

// Parser is a recursive-descent parser over a pre-lexed token stream
// implementing the grammar at 4.6.1: precedence NOT > AND > OR, with
// parenthesisation.
type Parser struct {
	tokens []Token
	pos    int
}

// Parse parses src into a *SelectStmt.
func Parse(src string) (*SelectStmt, error) {
	tokens, err := NewLexer(src).Lex()
	if err != nil {
		return nil, err
	}
	p := &Parser{tokens: tokens}
	stmt, err := p.parseSelect()
	if err != nil {
		return nil, err
	}
	if !p.atEOF() {
		return nil, p.errorf("unexpected trailing input %q", p.cur().Text).withSuggestion("check for a missing AND/OR or an extra clause")
	}
	return stmt, nil
}

func (p *Parser) cur() Token  { return p.tokens[p.pos] }
func (p *Parser) atEOF() bool { return p.cur().Kind == TokEOF }

func (p *Parser) advance() Token {
	t := p.cur()
	if t.Kind != TokEOF {
		p.pos++
	}
	return t
}

func (p *Parser) errorf(format string, args ...any) *ParseError {
	return &ParseError{Offset: p.cur().Offset, Msg: fmt.Sprintf(format, args...)}
}

func (e *ParseError) withSuggestion(s string) *ParseError {
	e.Suggestion = s
	return e
}

func (p *Parser) isKeyword(kw string) bool {
	t := p.cur()
	return t.Kind == TokIdent && strings.EqualFold(t.Text, kw)
}

func (p *Parser) expectKeyword(kw string) error {
	if !p.isKeyword(kw) {
		return p.errorf("expected %q, found %q", strings.ToUpper(kw), p.cur().Text).
			withSuggestion(fmt.Sprintf("insert %s here", strings.ToUpper(kw)))
	}
	p.advance()
	return nil
}

func (p *Parser) parseSelect() (*SelectStmt, error) {
	if err := p.expectKeyword("select"); err != nil {
		return nil, err
	}
	stmt := &SelectStmt{Limit: -1, Offset: -1}

	fields, err := p.parseFieldList()
	if err != nil {
		return nil, err
	}
	stmt.Fields = fields

	if err := p.expectKeyword("from"); err != nil {
		return nil, err
	}
	types, wildcard, err := p.parseTypeList()
	if err != nil {
		return nil, err
	}
	stmt.Types = types
	stmt.Wildcard = wildcard

	if p.isKeyword("where") {
		p.advance()
		cond, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		stmt.Where = cond
		stmt.History = containsHistory(cond)
	}

	if p.isKeyword("link") {
		p.advance()
		links, err := p.parseLinkClauses()
		if err != nil {
			return nil, err
		}
		stmt.Links = links
	}

	if p.isKeyword("order") {
		p.advance()
		if err := p.expectKeyword("by"); err != nil {
			return nil, err
		}
		order, err := p.parseOrderList()
		if err != nil {
			return nil, err
		}
		stmt.OrderBy = order
	}

	if p.isKeyword("limit") {
		p.advance()
		n, err := p.parseIntLiteral()
		if err != nil {
			return nil, err
		}
		stmt.Limit = n
	}

	if p.isKeyword("offset") {
		p.advance()
		n, err := p.parseIntLiteral()
		if err != nil {
			return nil, err
		}
		stmt.Offset = n
	}

	if p.isKeyword("context") {
		p.advance()
		ctx, err := p.parseContextOpts()
		if err != nil {
			return nil, err
		}
		stmt.Context = ctx
	}

	return stmt, nil
}

func (p *Parser) parseFieldList() ([]FieldExpr, error) {
	var fields []FieldExpr
	for {
		if p.cur().Kind == TokStar {
			p.advance()
			fields = append(fields, FieldExpr{Star: true})
		} else if p.cur().Kind == TokIdent {
			name := p.advance().Text
			if ComputedFields[strings.ToUpper(name)] {
				fields = append(fields, FieldExpr{Computed: strings.ToUpper(name)})
			} else {
				path := []string{name}
				for p.cur().Kind == TokDot {
					p.advance()
					if p.cur().Kind != TokIdent {
						return nil, p.errorf("expected identifier after '.'")
					}
					path = append(path, p.advance().Text)
				}
				fields = append(fields, FieldExpr{Path: path})
			}
		} else {
			return nil, p.errorf("expected a field name, '*', or computed identifier, found %q", p.cur().Text).
				withSuggestion("list field names or * after SELECT")
		}

		if p.cur().Kind == TokComma {
			p.advance()
			continue
		}
		break
	}
	return fields, nil
}

func (p *Parser) parseTypeList() ([]string, bool, error) {
	if p.cur().Kind == TokStar {
		p.advance()
		return nil, true, nil
	}
	var types []string
	for {
		if p.cur().Kind != TokIdent {
			return nil, false, p.errorf("expected a type name, found %q", p.cur().Text)
		}
		types = append(types, p.advance().Text)
		if p.cur().Kind == TokComma {
			p.advance()
			continue
		}
		break
	}
	return types, false, nil
}

// parseOr/parseAnd/parseNot/parsePrimary implement NOT > AND > OR.
func (p *Parser) parseOr() (Expr, error) {
	lhs, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("or") {
		p.advance()
		rhs, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		lhs = &BinaryExpr{Op: "OR", LHS: lhs, RHS: rhs}
	}
	return lhs, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	lhs, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("and") {
		p.advance()
		rhs, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		lhs = &BinaryExpr{Op: "AND", LHS: lhs, RHS: rhs}
	}
	return lhs, nil
}

func (p *Parser) parseNot() (Expr, error) {
	if p.isKeyword("not") {
		p.advance()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &NotExpr{Expr: inner}, nil
	}
	return p.parsePrimaryCond()
}

func (p *Parser) parsePrimaryCond() (Expr, error) {
	if p.cur().Kind == TokLParen {
		p.advance()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.cur().Kind != TokRParen {
			return nil, p.errorf("expected ')'").withSuggestion("close the open parenthesis")
		}
		p.advance()
		return inner, nil
	}

	if p.cur().Kind == TokIdent && isPredicateFunc(p.cur().Text) {
		return p.parseFuncPredicate()
	}

	// field comparison / IN / IS NULL
	field, err := p.parseFieldRef()
	if err != nil {
		return nil, err
	}

	if p.isKeyword("in") {
		p.advance()
		if p.cur().Kind != TokLParen {
			return nil, p.errorf("expected '(' after IN")
		}
		p.advance()
		var vals []Literal
		for {
			lit, err := p.parseLiteral()
			if err != nil {
				return nil, err
			}
			vals = append(vals, lit)
			if p.cur().Kind == TokComma {
				p.advance()
				continue
			}
			break
		}
		if p.cur().Kind != TokRParen {
			return nil, p.errorf("expected ')' to close IN list")
		}
		p.advance()
		return &InExpr{Field: field, Values: vals}, nil
	}

	if p.isKeyword("is") {
		p.advance()
		not := false
		if p.isKeyword("not") {
			p.advance()
			not = true
		}
		if err := p.expectKeyword("null"); err != nil {
			return nil, err
		}
		return &IsNullExpr{Field: field, Not: not}, nil
	}

	if p.cur().Kind != TokOp {
		return nil, p.errorf("expected a comparison operator, IN, or IS NULL after %q", strings.Join(field.Path, "."))
	}
	op := p.advance().Text
	rhs, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}
	return &BinaryExpr{Op: op, LHS: &field, RHS: &rhs}, nil
}

var predicateFuncs = map[string]bool{
	"contains": true, "matches": true, "body": true, "near": true, "linked": true,
	"implicit": true, "fresh": true, "stale": true, "expired": true, "current": true,
	"latest": true, "during": true, "overlaps": true, "asof": true, "history": true,
}

func isPredicateFunc(text string) bool { return predicateFuncs[strings.ToLower(text)] }

func (p *Parser) parseFuncPredicate() (Expr, error) {
	name := strings.ToUpper(p.advance().Text)

	if name == "BODY" {
		if err := p.expectKeyword("contains"); err != nil {
			return nil, err
		}
		name = "BODY_CONTAINS"
	}
	if name == "ASOF" {
		name = "AS_OF"
	}

	if p.cur().Kind != TokLParen {
		// nullary predicates: STALE, EXPIRED, CURRENT, LATEST, HISTORY
		return &FuncPredicate{Name: name}, nil
	}
	p.advance()
	var args []Expr
	for p.cur().Kind != TokRParen {
		arg, err := p.parseArg()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.cur().Kind == TokComma {
			p.advance()
			continue
		}
		break
	}
	if p.cur().Kind != TokRParen {
		return nil, p.errorf("expected ')' to close %s(...)", name)
	}
	p.advance()
	return &FuncPredicate{Name: name, Args: args}, nil
}

func (p *Parser) parseArg() (Expr, error) {
	switch p.cur().Kind {
	case TokString, TokNumber, TokDuration:
		lit, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		return &lit, nil
	case TokIdent:
		return p.parseFieldRefExpr()
	default:
		return nil, p.errorf("unexpected token %q in argument list", p.cur().Text)
	}
}

func (p *Parser) parseFieldRefExpr() (Expr, error) {
	ref, err := p.parseFieldRef()
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

func (p *Parser) parseFieldRef() (FieldRef, error) {
	if p.cur().Kind != TokIdent {
		return FieldRef{}, p.errorf("expected a field name, found %q", p.cur().Text)
	}
	path := []string{p.advance().Text}
	for p.cur().Kind == TokDot {
		p.advance()
		if p.cur().Kind != TokIdent {
			return FieldRef{}, p.errorf("expected identifier after '.'")
		}
		path = append(path, p.advance().Text)
	}
	return FieldRef{Path: path}, nil
}

func (p *Parser) parseLiteral() (Literal, error) {
	t := p.cur()
	switch t.Kind {
	case TokString, TokNumber, TokDuration:
		p.advance()
		return Literal{Kind: t.Kind, Value: t.Text}, nil
	default:
		return Literal{}, p.errorf("expected a literal value, found %q", t.Text)
	}
}

func (p *Parser) parseIntLiteral() (int, error) {
	lit, err := p.parseLiteral()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range lit.Value {
		if c < '0' || c > '9' {
			return 0, p.errorf("expected an integer, found %q", lit.Value)
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

func (p *Parser) parseLinkClauses() ([]LinkClause, error) {
	var links []LinkClause
	for {
		var rel string
		if p.cur().Kind == TokLParen {
			p.advance()
			if p.cur().Kind != TokIdent {
				return nil, p.errorf("expected a relation name inside ()")
			}
			rel = p.advance().Text
			if p.cur().Kind != TokRParen {
				return nil, p.errorf("expected ')' after relation name")
			}
			p.advance()
		}

		if p.cur().Kind != TokOp || (p.cur().Text != "->" && p.cur().Text != "<-") {
			return nil, p.errorf("expected '->' or '<-' in LINK clause")
		}
		reverse := p.advance().Text == "<-"

		if p.cur().Kind != TokIdent {
			return nil, p.errorf("expected a target type after '%s'", map[bool]string{true: "<-", false: "->"}[reverse])
		}
		targetType := p.advance().Text

		alias := ""
		if p.isKeyword("as") {
			p.advance()
			if p.cur().Kind != TokIdent {
				return nil, p.errorf("expected an alias after AS")
			}
			alias = p.advance().Text
		}

		links = append(links, LinkClause{Rel: rel, Reverse: reverse, TargetType: targetType, Alias: alias})

		if p.cur().Kind == TokComma {
			p.advance()
			continue
		}
		break
	}
	return links, nil
}

func (p *Parser) parseOrderList() ([]OrderTerm, error) {
	var terms []OrderTerm
	for {
		fields, err := p.parseFieldList()
		if err != nil {
			return nil, err
		}
		if len(fields) != 1 {
			return nil, p.errorf("ORDER BY expects one field per term")
		}
		desc := false
		if p.isKeyword("desc") {
			p.advance()
			desc = true
		} else if p.isKeyword("asc") {
			p.advance()
		}
		terms = append(terms, OrderTerm{Field: fields[0], Descending: desc})
		if p.cur().Kind == TokComma {
			p.advance()
			continue
		}
		break
	}
	return terms, nil
}

func (p *Parser) parseContextOpts() (ContextOpts, error) {
	opts := ContextOpts{Present: true, Format: "full"}
	for {
		switch {
		case p.isKeyword("window"):
			p.advance()
			n, err := p.parseIntLiteral()
			if err != nil {
				return opts, err
			}
			opts.Window = n
		case p.isKeyword("format"):
			p.advance()
			if p.cur().Kind != TokIdent {
				return opts, p.errorf("expected a format name after FORMAT")
			}
			opts.Format = strings.ToLower(p.advance().Text)
		case p.isKeyword("embed"):
			p.advance()
			if p.cur().Kind != TokIdent {
				return opts, p.errorf("expected true|false after EMBED")
			}
			opts.Embed = strings.EqualFold(p.advance().Text, "true")
		default:
			return opts, nil
		}
	}
}

// containsHistory reports whether expr contains a HISTORY predicate
// anywhere, which disables the compiler's default implicit LATEST()
// filter (4.6.3 Defaults).
func containsHistory(expr Expr) bool {
	switch e := expr.(type) {
	case *BinaryExpr:
		return containsHistory(e.LHS) || containsHistory(e.RHS)
	case *NotExpr:
		return containsHistory(e.Expr)
	case *FuncPredicate:
		return e.Name == "HISTORY"
	default:
		return false
	}
}
