package contacts

import "testing"

func TestUpsertCreatesAndMerges(t *testing.T) {
	c := NewCache("Laura", nil)

	c.Upsert(Contact{Telefono: "+573001112233", Nombre: PlaceholderName, Etiqueta: DefaultTag})
	c.Upsert(Contact{Telefono: "573001112233", Email: "maria@example.com"})

	got, ok := c.Get("573001112233")
	if !ok {
		t.Fatal("Get() missing contact after upsert")
	}
	if got.Telefono != "573001112233" {
		t.Fatalf("Telefono = %q, want normalized key", got.Telefono)
	}
	if got.Email != "maria@example.com" || got.Etiqueta != DefaultTag {
		t.Fatalf("merge lost fields: %+v", got)
	}
}

func TestUpsertNameGuardKeepsRealName(t *testing.T) {
	c := NewCache("Laura", nil)
	c.Upsert(Contact{Telefono: "1", Nombre: "Maria"})

	c.Upsert(Contact{Telefono: "1", Nombre: PlaceholderName})
	if got, _ := c.Get("1"); got.Nombre != "Maria" {
		t.Fatalf("Nombre = %q, placeholder overwrote real name", got.Nombre)
	}

	c.Upsert(Contact{Telefono: "1", Nombre: "Laura"})
	if got, _ := c.Get("1"); got.Nombre != "Maria" {
		t.Fatalf("Nombre = %q, bot name overwrote real name", got.Nombre)
	}

	c.Upsert(Contact{Telefono: "1", Nombre: "Maria Lopez"})
	if got, _ := c.Get("1"); got.Nombre != "Maria Lopez" {
		t.Fatalf("Nombre = %q, real rename was blocked", got.Nombre)
	}
}

func TestUpsertUpgradesPlaceholderName(t *testing.T) {
	c := NewCache("Laura", nil)
	c.Upsert(Contact{Telefono: "1", Nombre: PlaceholderName})
	c.Upsert(Contact{Telefono: "1", Nombre: "Carlos"})

	if got, _ := c.Get("1"); got.Nombre != "Carlos" {
		t.Fatalf("Nombre = %q, want Carlos", got.Nombre)
	}
}

func TestUpsertWithoutPhoneIsDropped(t *testing.T) {
	c := NewCache("Laura", nil)
	c.Upsert(Contact{Nombre: "Maria"})
	if c.Len() != 0 {
		t.Fatalf("Len() = %d, phoneless record was stored", c.Len())
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	c := NewCache("Laura", nil)
	rec := Contact{Telefono: "1", Nombre: "Maria", Email: "m@example.com", RowNumber: "7"}
	c.Upsert(rec)
	first, _ := c.Get("1")
	c.Upsert(rec)
	second, _ := c.Get("1")
	if first != second {
		t.Fatalf("repeated upsert changed state: %+v != %+v", first, second)
	}
}

func TestMergeKeepsRowNumber(t *testing.T) {
	c := NewCache("Laura", nil)
	c.Upsert(Contact{Telefono: "1", RowNumber: "42"})
	c.Upsert(Contact{Telefono: "1", Nombre: "Maria"})

	if got, _ := c.Get("1"); got.RowNumber != "42" {
		t.Fatalf("RowNumber = %q, lost across merge", got.RowNumber)
	}
}

func TestReplaceSwapsContents(t *testing.T) {
	c := NewCache("Laura", nil)
	c.Upsert(Contact{Telefono: "1", Nombre: "Maria"})

	c.Replace([]Contact{
		{Telefono: "+2", Nombre: "Luis"},
		{Nombre: "sin telefono"},
	})

	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after replace", c.Len())
	}
	if _, ok := c.Get("1"); ok {
		t.Fatal("old contact survived Replace")
	}
	if got, ok := c.Get("2"); !ok || got.Nombre != "Luis" {
		t.Fatalf("Get(2) = %+v, %v", got, ok)
	}
}
