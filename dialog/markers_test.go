package dialog

import "testing"

func TestParseMarkersBareAndPayload(t *testing.T) {
	text := "Claro, mira estas opciones 🧩MostrarProductos🧩 y dime cuál te gusta.\n" +
		`🧩producto_ofrecido[{"sku":"A1","nombre":"Crema facial","precio":25000}]🧩`

	markers, cleaned := ParseMarkers(text)
	if len(markers) != 2 {
		t.Fatalf("markers = %d, want 2", len(markers))
	}
	if markers[0].Tag != TagShowProducts || markers[0].Payload != "" {
		t.Fatalf("markers[0] = %+v", markers[0])
	}
	if markers[1].Tag != TagProductOffered {
		t.Fatalf("markers[1] = %+v", markers[1])
	}
	if cleaned != "Claro, mira estas opciones y dime cuál te gusta." {
		t.Fatalf("cleaned = %q", cleaned)
	}
}

func TestParseMarkersCaseInsensitiveTags(t *testing.T) {
	for _, text := range []string{"🧩SOLICITARAYUDA🧩", "🧩SolicitarAyuda🧩", "🧩 solicitarayuda 🧩"} {
		markers, _ := ParseMarkers(text)
		if len(markers) != 1 || markers[0].Tag != TagRequestHelp {
			t.Fatalf("ParseMarkers(%q) = %v", text, markers)
		}
	}
}

func TestParseMarkersNoneLeavesTextAlone(t *testing.T) {
	markers, cleaned := ParseMarkers("Hola, ¿en qué puedo ayudarte?")
	if len(markers) != 0 {
		t.Fatalf("markers = %v, want none", markers)
	}
	if cleaned != "Hola, ¿en qué puedo ayudarte?" {
		t.Fatalf("cleaned = %q", cleaned)
	}
}

func TestParseOfferedAcceptsAliases(t *testing.T) {
	p, ok := parseOffered(`{"codigo":"B2","producto":"Serum","precio":30000}`)
	if !ok {
		t.Fatal("parseOffered() rejected aliased payload")
	}
	if p.sku() != "B2" || p.name() != "Serum" {
		t.Fatalf("parseOffered() = %+v", p)
	}

	if _, ok := parseOffered("no es json"); ok {
		t.Fatal("parseOffered() accepted malformed payload")
	}
	if _, ok := parseOffered(`{"precio":10}`); ok {
		t.Fatal("parseOffered() accepted payload without product identity")
	}
}

func TestParsePaymentMethodForms(t *testing.T) {
	cases := map[string]string{
		"transferencia":          "transferencia",
		`"contraentrega"`:        "contraentrega",
		`{"metodo":"nequi"}`:     "nequi",
		`{"method":"daviplata"}`: "daviplata",
		"":                       "",
	}
	for payload, want := range cases {
		if got := parsePaymentMethod(payload); got != want {
			t.Fatalf("parsePaymentMethod(%q) = %q, want %q", payload, got, want)
		}
	}
}
