package registry

import (
	"fmt"
	"sync"
	"testing"
)

type fakeFactory struct {
	kind string
}

func TestBaseRegistry_Register(t *testing.T) {
	reg := NewBaseRegistry[fakeFactory]()

	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "valid registration", key: "SLACK_CONNECTOR", wantErr: false},
		{name: "empty name rejected", key: "", wantErr: true},
		{name: "duplicate rejected", key: "SLACK_CONNECTOR", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.Register(tt.key, fakeFactory{kind: tt.key})
			if (err != nil) != tt.wantErr {
				t.Errorf("Register(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
		})
	}
}

func TestBaseRegistry_GetAndRemove(t *testing.T) {
	reg := NewBaseRegistry[fakeFactory]()
	if err := reg.Register("NOTION_CONNECTOR", fakeFactory{kind: "notion"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, ok := reg.Get("NOTION_CONNECTOR")
	if !ok || got.kind != "notion" {
		t.Errorf("Get() = %+v, %v; want kind=notion, true", got, ok)
	}

	if _, ok := reg.Get("missing"); ok {
		t.Error("Get(missing) ok = true, want false")
	}

	if err := reg.Remove("NOTION_CONNECTOR"); err != nil {
		t.Errorf("Remove() error = %v", err)
	}
	if err := reg.Remove("NOTION_CONNECTOR"); err == nil {
		t.Error("Remove() of absent item: expected error, got nil")
	}
	if _, ok := reg.Get("NOTION_CONNECTOR"); ok {
		t.Error("item still present after Remove")
	}
}

func TestBaseRegistry_NamesSorted(t *testing.T) {
	reg := NewBaseRegistry[fakeFactory]()
	for _, k := range []string{"zeta", "alpha", "mid"} {
		if err := reg.Register(k, fakeFactory{kind: k}); err != nil {
			t.Fatalf("Register(%q): %v", k, err)
		}
	}

	names := reg.Names()
	want := []string{"alpha", "mid", "zeta"}
	if len(names) != len(want) {
		t.Fatalf("Names() length = %d, want %d", len(names), len(want))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestBaseRegistry_Clear(t *testing.T) {
	reg := NewBaseRegistry[fakeFactory]()
	for i := 0; i < 3; i++ {
		if err := reg.Register(fmt.Sprintf("item-%d", i), fakeFactory{}); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	reg.Clear()
	if count := reg.Count(); count != 0 {
		t.Errorf("Count() after Clear = %d, want 0", count)
	}
	if items := reg.List(); len(items) != 0 {
		t.Errorf("List() after Clear length = %d, want 0", len(items))
	}
}

func TestBaseRegistry_Concurrency(t *testing.T) {
	reg := NewBaseRegistry[fakeFactory]()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = reg.Register(fmt.Sprintf("c-%d", i), fakeFactory{})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			reg.Get(fmt.Sprintf("c-%d", i))
			reg.Count()
			reg.Names()
		}
	}()

	wg.Wait()
	if count := reg.Count(); count != 100 {
		t.Errorf("Count() after concurrent registration = %d, want 100", count)
	}
}
