package saveformat

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
)

func TestParse_ScalarKinds(t *testing.T) {
	in := `
name="United Nations of Earth"
version="Cepheus v3.4.5"
date=2245.03.04
fleet=12
military_power=1234.56
ironman=no
required_dlcs={ "Utopia" "Apocalypse" }
capital=3
origin=none
`
	res, err := Parse(strings.NewReader(in))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	root := res.Root

	if s, _ := root.GetString("name"); s != "United Nations of Earth" {
		t.Fatalf("name = %q", s)
	}
	if v, _ := root.Get("date"); v.Kind != KindDate || v.Str != "2245.03.04" {
		t.Fatalf("date = %+v", v)
	}
	if n, _ := root.GetInt("fleet"); n != 12 {
		t.Fatalf("fleet = %d", n)
	}
	if f, _ := root.GetFloat("military_power"); f != 1234.56 {
		t.Fatalf("military_power = %f", f)
	}
	if b, ok := root.GetBool("ironman"); !ok || b {
		t.Fatalf("ironman = %v ok=%v", b, ok)
	}
	if v, _ := root.Get("required_dlcs"); v.Kind != KindList || len(v.List) != 2 {
		t.Fatalf("required_dlcs = %+v", v)
	}
	if ref, ok := mustGet(t, root, "capital").Ref(); !ok || ref != 3 {
		t.Fatalf("capital ref = %d ok=%v", ref, ok)
	}
	if !mustGet(t, root, "origin").IsNone() {
		t.Fatal("origin should be none")
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", res.Warnings)
	}
}

func TestParse_RepeatedKeysFoldToSequence(t *testing.T) {
	in := `
galactic_object={
	5={
		planet=10
		planet=11
		planet=12
		name="Sol"
	}
}
`
	res, err := Parse(strings.NewReader(in))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sec, ok := res.Root.GetObject("galactic_object")
	if !ok {
		t.Fatal("missing galactic_object")
	}
	sys, ok := sec.GetObject("5")
	if !ok {
		t.Fatal("missing system 5")
	}
	planets := sys.GetAll("planet")
	if len(planets) != 3 {
		t.Fatalf("planet entries = %d, want 3 (repeated keys must not collapse)", len(planets))
	}
	if p0, _ := planets[0].AsInt(); p0 != 10 {
		t.Fatalf("first planet = %d", p0)
	}
	if p2, _ := planets[2].AsInt(); p2 != 12 {
		t.Fatalf("last planet = %d", p2)
	}
}

func TestParse_AnonymousBlocks(t *testing.T) {
	in := `attackers={ { country=0 } { country=4 } }`
	res, err := Parse(strings.NewReader(in))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	v, _ := res.Root.Get("attackers")
	if v.Kind != KindList || len(v.List) != 2 {
		t.Fatalf("attackers = %+v", v)
	}
	c, _ := v.List[1].Obj.GetInt("country")
	if c != 4 {
		t.Fatalf("second attacker = %d", c)
	}
}

func TestParse_RecoversFromStrayTokens(t *testing.T) {
	in := `
good=1
={ junk=2 nested={ deeper=3 } }
also_good=4
`
	res, err := Parse(strings.NewReader(in))
	if err != nil {
		t.Fatalf("parse should recover, got: %v", err)
	}
	if len(res.Warnings) == 0 {
		t.Fatal("expected a warning for the skipped subtree")
	}
	if n, _ := res.Root.GetInt("good"); n != 1 {
		t.Fatalf("good = %d", n)
	}
	if n, _ := res.Root.GetInt("also_good"); n != 4 {
		t.Fatalf("also_good = %d (parse must continue past the bad subtree)", n)
	}
}

func TestParse_TruncatedIsMalformed(t *testing.T) {
	cases := []string{
		`country={ 0={ name="UNE" `,
		`country={ 0={ name="UNE`,
		`a=1 } b=2`,
		`a=`,
	}
	for _, in := range cases {
		if _, err := Parse(strings.NewReader(in)); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%q: err = %v, want ErrMalformed", in, err)
		}
	}
}

func TestReadSaveBytes_ZipContainer(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	mw, err := zw.Create("meta")
	if err != nil {
		t.Fatalf("create meta: %v", err)
	}
	if _, err := mw.Write([]byte(`name="United Nations of Earth"` + "\ndate=2245.03.04\n")); err != nil {
		t.Fatalf("write meta: %v", err)
	}
	gw, err := zw.Create("gamestate")
	if err != nil {
		t.Fatalf("create gamestate: %v", err)
	}
	if _, err := gw.Write([]byte(`galaxy={ name="Andromeda Prime" }` + "\n")); err != nil {
		t.Fatalf("write gamestate: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}

	sf, err := ReadSaveBytes(buf.Bytes())
	if err != nil {
		t.Fatalf("read save: %v", err)
	}
	if sf.Meta == nil {
		t.Fatal("meta not parsed")
	}
	if s, _ := sf.Meta.GetString("name"); s != "United Nations of Earth" {
		t.Fatalf("meta name = %q", s)
	}
	gal, ok := sf.Gamestate.GetObject("galaxy")
	if !ok {
		t.Fatal("gamestate galaxy missing")
	}
	if s, _ := gal.GetString("name"); s != "Andromeda Prime" {
		t.Fatalf("galaxy name = %q", s)
	}
}

func TestReadSaveBytes_TruncatedZipIsMalformed(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	gw, _ := zw.Create("gamestate")
	_, _ = gw.Write([]byte(`a=1`))
	_ = zw.Close()

	cut := buf.Bytes()[:buf.Len()/2]
	if _, err := ReadSaveBytes(cut); !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestReadSaveBytes_BareText(t *testing.T) {
	sf, err := ReadSaveBytes([]byte(`date=2200.01.01`))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if sf.Meta != nil {
		t.Fatal("bare text should have no meta")
	}
	if v, ok := sf.Gamestate.Get("date"); !ok || v.Kind != KindDate {
		t.Fatalf("date = %+v ok=%v", v, ok)
	}
}

func mustGet(t *testing.T, o *Object, key string) Value {
	t.Helper()
	v, ok := o.Get(key)
	if !ok {
		t.Fatalf("missing key %q", key)
	}
	return v
}
