package mkql

import "testing"

func TestLexBasicSelect(t *testing.T) {
	tokens, err := NewLexer(`SELECT *, CONFIDENCE FROM project WHERE status = 'active' AND priority >= 2 LIMIT 10`).Lex()
	if err != nil {
		t.Fatalf("Lex: %v", err)
	}
	if tokens[0].Kind != TokIdent || tokens[0].Text != "SELECT" {
		t.Fatalf("first token = %+v", tokens[0])
	}
	var sawStar, sawString, sawOp bool
	for _, tok := range tokens {
		switch tok.Kind {
		case TokStar:
			sawStar = true
		case TokString:
			sawString = true
			if tok.Text != "active" {
				t.Errorf("string literal = %q, want active", tok.Text)
			}
		case TokOp:
			if tok.Text == ">=" {
				sawOp = true
			}
		}
	}
	if !sawStar || !sawString || !sawOp {
		t.Fatalf("missing expected token kinds: star=%v string=%v op=%v", sawStar, sawString, sawOp)
	}
	if tokens[len(tokens)-1].Kind != TokEOF {
		t.Fatalf("last token should be EOF, got %+v", tokens[len(tokens)-1])
	}
}

func TestLexDurationVsNumber(t *testing.T) {
	tokens, err := NewLexer(`AGE() < 7d AND priority > 3`).Lex()
	if err != nil {
		t.Fatalf("Lex: %v", err)
	}
	var kinds []TokenKind
	var texts []string
	for _, tok := range tokens {
		if tok.Kind == TokDuration || tok.Kind == TokNumber {
			kinds = append(kinds, tok.Kind)
			texts = append(texts, tok.Text)
		}
	}
	if len(kinds) != 2 || kinds[0] != TokDuration || texts[0] != "7d" {
		t.Fatalf("expected [TokDuration(7d), TokNumber(3)], got kinds=%v texts=%v", kinds, texts)
	}
	if kinds[1] != TokNumber || texts[1] != "3" {
		t.Fatalf("expected second token as plain number 3, got %v %v", kinds[1], texts[1])
	}
}

func TestLexUnterminatedStringIsParseError(t *testing.T) {
	_, err := NewLexer(`SELECT * FROM project WHERE status = 'active`).Lex()
	if err == nil {
		t.Fatal("expected a parse error for an unterminated string")
	}
	var pe *ParseError
	if perr, ok := err.(*ParseError); ok {
		pe = perr
	} else {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if pe.Offset == 0 {
		t.Errorf("expected a non-zero offset pointing at the opening quote")
	}
}
