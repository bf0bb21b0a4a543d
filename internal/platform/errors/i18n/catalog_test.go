package i18n

import "testing"

func TestGetCatalogFallback(t *testing.T) {
	base := GetCatalog("en-US")
	if base == nil {
		t.Fatal("expected base catalog")
	}
	fallback := GetCatalog("missing-locale")
	if fallback != base {
		t.Fatal("expected fallback to en-US catalog")
	}
}

func TestFormatFallbacks(t *testing.T) {
	cat := NewCatalog("test", map[Code]string{
		"code": "hello {{.Name}}",
	})

	if cat.Format("unknown", nil) != "unknown" {
		t.Fatal("expected code fallback when template missing")
	}
	if cat.Format("code", nil) != "hello <no value>" {
		t.Fatal("expected template to render missing metadata")
	}
}

func TestFormatTemplateErrorFallback(t *testing.T) {
	cat := NewCatalog("test", map[Code]string{
		"code": "{{ if .Name }}",
	})
	if cat.Format("code", map[string]string{"Name": "X"}) != "{{ if .Name }}" {
		t.Fatal("expected template fallback on parse error")
	}
}

func TestFormatTemplateExecutionErrorFallback(t *testing.T) {
	cat := NewCatalog("test", map[Code]string{
		"code": "{{ call .Name }}",
	})
	if cat.Format("code", map[string]string{"Name": "X"}) != "{{ call .Name }}" {
		t.Fatal("expected template fallback on execute error")
	}
}

func TestRegisterCatalog(t *testing.T) {
	custom := NewCatalog("custom", map[Code]string{"code": "ok"})
	RegisterCatalog("custom", custom)
	if got := GetCatalog("custom"); got != custom {
		t.Fatal("expected registered catalog")
	}
}

func TestResolveLocale(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: "", want: BaseLocale},
		{input: "pt-BR,pt;q=0.9", want: "pt-BR"},
		{input: "pt", want: "pt-BR"},
		{input: "en-GB", want: "en-US"},
		{input: "ja-JP", want: BaseLocale},
		{input: ";;;", want: BaseLocale},
	}
	for _, tc := range tests {
		if got := ResolveLocale(tc.input); got != tc.want {
			t.Fatalf("ResolveLocale(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestGetCatalogMatchesRegionalVariant(t *testing.T) {
	cat := GetCatalog("pt")
	if cat.Locale() != "pt-BR" {
		t.Fatalf("locale = %q, want pt-BR", cat.Locale())
	}
	got := cat.Format("MESSAGE_NOT_FOUND", map[string]string{"message_id": "m-1"})
	if got != "Mensagem m-1 não encontrada." {
		t.Fatalf("unexpected message %q", got)
	}
}
