package logger

import "testing"

func TestNew(t *testing.T) {
	for _, development := range []bool{true, false} {
		log, err := New(development, "")
		if err != nil {
			t.Fatalf("New(%v): %v", development, err)
		}
		if log == nil {
			t.Fatal("nil logger")
		}
	}
}

func TestNew_LevelOverride(t *testing.T) {
	log, err := New(false, "debug")
	if err != nil {
		t.Fatal(err)
	}
	if !log.Core().Enabled(-1) { // zapcore.DebugLevel
		t.Error("debug level should be enabled")
	}
}

func TestNew_BadLevel(t *testing.T) {
	if _, err := New(false, "chatty"); err == nil {
		t.Error("expected an error for an unknown level")
	}
}

func TestMust_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Must should panic on a bad level")
		}
	}()
	Must(false, "chatty")
}
