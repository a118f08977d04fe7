package textutil

import (
	"net/url"
	"reflect"
	"testing"
)

func TestFlattenParams(t *testing.T) {
	values := url.Values{
		"ref":     {"", " PAY-1 "},
		" token ": {"abc", "def"},
		"":        {"ignored"},
		"PayerID": {"  "},
	}
	want := map[string]string{"ref": "PAY-1", "token": "abc"}
	if got := FlattenParams(values); !reflect.DeepEqual(got, want) {
		t.Fatalf("FlattenParams() = %#v, want %#v", got, want)
	}
}
