package schema

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const restaurantsCSV = `Table Name,Field Name,Type,Is Primary Key,Is Foreign Key
RESTAURANT,ID,int(11),y,n
RESTAURANT,NAME,varchar(255),n,n
RESTAURANT,CITY_NAME,varchar(255),n,y
-,-,-,-,-
LOCATION,RESTAURANT_ID,int(11),y,y
LOCATION,STREET_NAME,varchar(255),n,n
RESTAURANT,RATING,"decimal(1,1)",n,n
`

func TestLoadCSVGroupsColumnsByFirstSeenTable(t *testing.T) {
	ctx, err := LoadCSV(strings.NewReader(restaurantsCSV))
	if err != nil {
		t.Fatalf("LoadCSV() error = %v", err)
	}
	if len(ctx.Tables) != 2 {
		t.Fatalf("len(Tables) = %d, want 2", len(ctx.Tables))
	}
	if ctx.Tables[0].Name != "RESTAURANT" || ctx.Tables[1].Name != "LOCATION" {
		t.Fatalf("table order = %q, %q", ctx.Tables[0].Name, ctx.Tables[1].Name)
	}
	restaurant := ctx.Tables[0]
	if len(restaurant.Columns) != 4 {
		t.Fatalf("RESTAURANT columns = %d, want 4", len(restaurant.Columns))
	}
	if !restaurant.Columns[0].PrimaryKey || restaurant.Columns[0].ForeignKey {
		t.Fatalf("ID column = %#v", restaurant.Columns[0])
	}
	if !restaurant.Columns[2].ForeignKey {
		t.Fatalf("CITY_NAME column = %#v", restaurant.Columns[2])
	}
	if restaurant.Columns[3].DeclaredType != "decimal(1,1)" {
		t.Fatalf("RATING type = %q", restaurant.Columns[3].DeclaredType)
	}
}

func TestLoadCSVRejectsMissingHeader(t *testing.T) {
	if _, err := LoadCSV(strings.NewReader("Name,Type\nx,int\n")); err == nil {
		t.Fatal("expected missing column error")
	}
	if _, err := LoadCSV(strings.NewReader("")); err == nil {
		t.Fatal("expected empty csv error")
	}
}

func TestLoadCSVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.csv")
	if err := os.WriteFile(path, []byte(restaurantsCSV), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	ctx, err := LoadCSVFile(path)
	if err != nil {
		t.Fatalf("LoadCSVFile() error = %v", err)
	}
	if len(ctx.Tables) != 2 {
		t.Fatalf("len(Tables) = %d", len(ctx.Tables))
	}
	if _, err := LoadCSVFile(filepath.Join(t.TempDir(), "missing.csv")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestCreateStatements(t *testing.T) {
	ctx := Context{Tables: []Table{
		{Name: "users", Columns: []Column{
			{Name: "id", DeclaredType: "INTEGER", PrimaryKey: true},
			{Name: "name", DeclaredType: "TEXT"},
		}},
		{Name: "orders", Columns: []Column{
			{Name: "user_id", DeclaredType: "INTEGER", ForeignKey: true},
		}},
	}}
	got := ctx.CreateStatements()
	want := "CREATE TABLE \"users\" (\n" +
		"  \"id\" INTEGER,\n" +
		"  \"name\" TEXT,\n" +
		"  PRIMARY KEY (\"id\")\n" +
		");\n\n" +
		"CREATE TABLE \"orders\" (\n" +
		"  \"user_id\" INTEGER -- foreign key\n" +
		");"
	if got != want {
		t.Fatalf("CreateStatements() =\n%s\nwant\n%s", got, want)
	}
}

func TestValidate(t *testing.T) {
	cases := []Context{
		{Tables: []Table{{Name: "", Columns: []Column{{Name: "a"}}}}},
		{Tables: []Table{{Name: "t"}}},
		{Tables: []Table{{Name: "t", Columns: []Column{{Name: " "}}}}},
		{Tables: []Table{{Name: "t", Columns: []Column{{Name: "a"}}}, {Name: "T", Columns: []Column{{Name: "a"}}}}},
	}
	for _, c := range cases {
		if err := c.Validate(); err == nil {
			t.Fatalf("Validate(%#v) expected error", c)
		}
	}
}

type fakeDescriber struct {
	ctx   Context
	err   error
	calls int
}

func (f *fakeDescriber) Describe(context.Context) (Context, error) {
	f.calls++
	return f.ctx, f.err
}

func TestProviderResolveOrder(t *testing.T) {
	static := Context{Tables: []Table{{Name: "static", Columns: []Column{{Name: "a"}}}}}
	supplied := Context{Tables: []Table{{Name: "supplied", Columns: []Column{{Name: "b"}}}}}
	described := &fakeDescriber{ctx: Context{Tables: []Table{{Name: "described", Columns: []Column{{Name: "c"}}}}}}

	got, err := NewProvider(static).Resolve(context.Background(), &supplied, described)
	if err != nil || got.Tables[0].Name != "supplied" {
		t.Fatalf("Resolve(supplied) = %#v, %v", got, err)
	}
	got, err = NewProvider(static).Resolve(context.Background(), nil, described)
	if err != nil || got.Tables[0].Name != "static" {
		t.Fatalf("Resolve(static) = %#v, %v", got, err)
	}
	got, err = NewProvider(Context{}).Resolve(context.Background(), &Context{}, described)
	if err != nil || got.Tables[0].Name != "described" {
		t.Fatalf("Resolve(described) = %#v, %v", got, err)
	}
	if described.calls != 1 {
		t.Fatalf("Describe calls = %d, want 1", described.calls)
	}
}

func TestProviderSource(t *testing.T) {
	static := Context{Tables: []Table{{Name: "a", Columns: []Column{{Name: "id"}}}}}
	supplied := Context{Tables: []Table{{Name: "b", Columns: []Column{{Name: "id"}}}}}
	if got := NewProvider(static).Source(&supplied); got != "request" {
		t.Fatalf("Source(supplied) = %q", got)
	}
	if got := NewProvider(static).Source(nil); got != "configured" {
		t.Fatalf("Source(nil) = %q", got)
	}
	if got := NewProvider(Context{}).Source(&Context{}); got != "introspected" {
		t.Fatalf("Source(empty) = %q", got)
	}
}

func TestProviderResolveErrors(t *testing.T) {
	bad := Context{Tables: []Table{{Name: "t"}}}
	if _, err := NewProvider(Context{}).Resolve(context.Background(), &bad, nil); err == nil {
		t.Fatal("expected invalid schema error")
	}
	boom := errors.New("boom")
	_, err := NewProvider(Context{}).Resolve(context.Background(), nil, &fakeDescriber{err: boom})
	if !errors.Is(err, boom) {
		t.Fatalf("Resolve() error = %v, want wrapped boom", err)
	}
	got, err := NewProvider(Context{}).Resolve(context.Background(), nil, nil)
	if err != nil || !got.IsEmpty() {
		t.Fatalf("Resolve(nil) = %#v, %v", got, err)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	orig := Context{Tables: []Table{{Name: "t", Columns: []Column{{Name: "a"}}}}}
	clone := orig.Clone()
	clone.Tables[0].Columns[0].Name = "changed"
	if orig.Tables[0].Columns[0].Name != "a" {
		t.Fatal("Clone() shares column storage")
	}
}
