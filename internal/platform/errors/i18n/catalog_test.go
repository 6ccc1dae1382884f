package i18n

import "testing"

func TestGetCatalogFallback(t *testing.T) {
	base := GetCatalog(BaseLocale)
	if base == nil {
		t.Fatal("expected base catalog")
	}
	if fallback := GetCatalog("fr-FR"); fallback != base {
		t.Fatal("expected fallback to en-US catalog")
	}
	if empty := GetCatalog(""); empty != base {
		t.Fatal("expected empty locale to use en-US catalog")
	}
}

func TestGetCatalogNegotiatesAcceptLanguage(t *testing.T) {
	cat := GetCatalog("es-MX,es;q=0.9,en;q=0.5")
	if cat.Locale() != "es" {
		t.Fatalf("locale = %q, want %q", cat.Locale(), "es")
	}
}

func TestNegotiate(t *testing.T) {
	tests := map[string]string{
		"":                "en-US",
		"es":              "es",
		"es-AR":           "es",
		"en-GB":           "en-US",
		"de-DE":           "en-US",
		"fr;q=0.9,es;q=1": "es",
		"!!invalid!!":     "en-US",
	}
	for header, want := range tests {
		if got := Negotiate(header); got != want {
			t.Fatalf("Negotiate(%q) = %q, want %q", header, got, want)
		}
	}
}

func TestFormatTurnMismatch(t *testing.T) {
	got := GetCatalog("en-US").Format("TURN_MISMATCH", map[string]string{"Expected": "3", "Got": "2"})
	want := "Expected moves for turn 3, got turn 2."
	if got != want {
		t.Fatalf("Format = %q, want %q", got, want)
	}
}

func TestFormatFallbacks(t *testing.T) {
	cat := NewCatalog("test", map[Code]string{
		"code": "hello {{.Name}}",
	})

	if cat.Format("unknown", nil) != "unknown" {
		t.Fatal("expected code fallback when template missing")
	}
	if got := cat.Format("code", nil); got != "hello " {
		t.Fatalf("Format = %q, want %q", got, "hello ")
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

func TestCatalogsCoverSameCodes(t *testing.T) {
	for code := range enUSMessages {
		if _, ok := esMessages[code]; !ok {
			t.Fatalf("es catalog missing %s", code)
		}
	}
	for code := range esMessages {
		if _, ok := enUSMessages[code]; !ok {
			t.Fatalf("en-US catalog missing %s", code)
		}
	}
}

func TestRegisterCatalog(t *testing.T) {
	custom := NewCatalog("custom", map[Code]string{"code": "ok"})
	RegisterCatalog("custom", custom)
	if got := GetCatalog("custom"); got != custom {
		t.Fatal("expected registered catalog")
	}
}
