package util

import (
	"reflect"
	"testing"
	"time"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("CATALOG_TEST_NUM", "42.5")
	t.Setenv("CATALOG_TEST_BAD_NUM", "abc")
	t.Setenv("CATALOG_TEST_BOOL", "TRUE")
	t.Setenv("CATALOG_TEST_DUR", "90s")
	t.Setenv("CATALOG_TEST_LIST", " a, ,b ,c")
	t.Setenv("CATALOG_TEST_EMPTY", "")

	if got := GetEnvNumeric("CATALOG_TEST_NUM", 1); got != 42.5 {
		t.Fatalf("GetEnvNumeric = %v", got)
	}
	if got := GetEnvNumeric("CATALOG_TEST_BAD_NUM", 7); got != 7 {
		t.Fatalf("GetEnvNumeric fallback = %v", got)
	}
	if got := GetEnvInt("CATALOG_TEST_NUM", 1); got != 42 {
		t.Fatalf("GetEnvInt = %v", got)
	}
	if !GetEnvBool("CATALOG_TEST_BOOL", false) {
		t.Fatal("GetEnvBool should parse TRUE")
	}
	if got := GetEnvDuration("CATALOG_TEST_DUR", time.Minute); got != 90*time.Second {
		t.Fatalf("GetEnvDuration = %v", got)
	}
	if got := GetEnvDuration("CATALOG_TEST_MISSING", time.Minute); got != time.Minute {
		t.Fatalf("GetEnvDuration default = %v", got)
	}
	if got := GetEnvList("CATALOG_TEST_LIST", nil); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("GetEnvList = %v", got)
	}
	if got := GetEnvString("CATALOG_TEST_EMPTY", "fallback"); got != "fallback" {
		t.Fatalf("GetEnvString = %q", got)
	}
}
