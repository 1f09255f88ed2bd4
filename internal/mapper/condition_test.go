package mapper

import "testing"

func TestLeafConditionsEmitExpectedSQL(t *testing.T) {
	cases := []struct {
		name     string
		cond     Condition
		wantSQL  string
		wantArgs []any
	}{
		{"eq", Eq("id", 1), "id = ?", []any{1}},
		{"neq", Neq("id", 1), "id <> ?", []any{1}},
		{"gt", Gt("age", 18), "age > ?", []any{18}},
		{"ge", Ge("age", 18), "age >= ?", []any{18}},
		{"lt", Lt("age", 18), "age < ?", []any{18}},
		{"le", Le("age", 18), "age <= ?", []any{18}},
		{"between", Between("age", 18, 30), "age BETWEEN ? AND ?", []any{18, 30}},
		{"like", Like("name", "a%"), "name LIKE ?", []any{"a%"}},
		{"regexp", Regexp("name", "^a"), "name REGEXP ?", []any{"^a"}},
		{"in", In("id", 1, 2, 3), "id IN (?, ?, ?)", []any{1, 2, 3}},
		{"not_in", NotIn("id", 1, 2), "id NOT IN (?, ?)", []any{1, 2}},
		{"is_null", IsNull("deleted_at"), "deleted_at IS NULL", nil},
		{"is_not_null", IsNotNull("deleted_at"), "deleted_at IS NOT NULL", nil},
		{"raw", Raw("age > ? AND age < ?", 1, 99), "age > ? AND age < ?", []any{1, 99}},
		{"true", TrueCond(), "1=1", nil},
		{"false", FalseCond(), "1=0", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sql, args := Emit(tc.cond)
			if sql != tc.wantSQL {
				t.Fatalf("sql = %q, want %q", sql, tc.wantSQL)
			}
			if !argsEqual(args, tc.wantArgs) {
				t.Fatalf("args = %v, want %v", args, tc.wantArgs)
			}
		})
	}
}

func TestAndOrNotComposition(t *testing.T) {
	c := And(Eq("a", 1), Or(Gt("b", 2), Lt("c", 3)), Not(IsNull("d")))
	sql, args := Emit(c)
	want := "(a = ? AND (b > ? OR c < ?) AND NOT (d IS NULL))"
	if sql != want {
		t.Fatalf("sql = %q, want %q", sql, want)
	}
	if !argsEqual(args, []any{1, 2, 3}) {
		t.Fatalf("args = %v", args)
	}
}

func TestEmptyCompositorIsIdentity(t *testing.T) {
	sql, args := Emit(And())
	if sql != "1=1" || len(args) != 0 {
		t.Fatalf("empty AND should be identity true, got %q %v", sql, args)
	}
}

func argsEqual(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
