package i18n

import (
	"strings"
	"testing"
)

func TestLoadAndLookup(t *testing.T) {
	t.Parallel()
	bundle, err := Load("en_US")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	pack := bundle.Pack("en_US")
	msg := pack.Get("newpack.created", "max", "120")
	if !strings.Contains(msg, "120") {
		t.Fatalf("placeholder not substituted: %q", msg)
	}
	if strings.Contains(msg, "{max}") {
		t.Fatalf("mark left in message: %q", msg)
	}
}

func TestPackFallsBackToDefaultLanguage(t *testing.T) {
	t.Parallel()
	bundle, err := Load("en_US")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	pack := bundle.Pack("fr_FR")
	if pack.Tag() != "en_US" {
		t.Fatalf("expected fallback pack, got %s", pack.Tag())
	}
}

func TestUnknownKeyReturnsKey(t *testing.T) {
	t.Parallel()
	bundle, err := Load("en_US")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := bundle.Pack("en_US").Get("no.such.key"); got != "no.such.key" {
		t.Fatalf("unexpected lookup result: %q", got)
	}
}

func TestAllLocalesShareTheCatalogue(t *testing.T) {
	t.Parallel()
	bundle, err := Load("en_US")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	keys := []string{
		"start", "oops", "nosticker",
		"newpack.created", "newpack.task_exists", "newpack.task_locked", "newpack.task_exceed",
		"sticker.saved", "sticker.task_full", "sticker.duplicated", "sticker.set_added",
		"progress.downloading", "progress.converting", "progress.packaging", "progress.sending",
		"error.user_prompt", "error.resolve", "error.download", "error.convert", "error.nothing_converted",
		"lang.list", "lang.changed", "purge.done",
	}
	for _, tag := range bundle.Tags() {
		pack := bundle.Pack(tag)
		for _, key := range keys {
			if pack.Get(key) == key {
				t.Fatalf("locale %s missing key %s", tag, key)
			}
		}
	}
}
