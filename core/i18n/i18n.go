package i18n

import (
	"embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed lang/*.yml
var langFS embed.FS

// Supported languages. English is the fallback for unknown prefixes and keys.
const (
	LangEN = "en"
	LangDE = "de"

	DefaultLanguage = LangEN
)

// Commands recognized in free text regardless of conversation step.
const (
	CmdStop   = "stop"
	CmdDelete = "delete"
)

type catalog struct {
	Messages map[string]string   `yaml:"messages"`
	Buttons  map[string]string   `yaml:"buttons"`
	Commands map[string][]string `yaml:"commands"`
}

var bundles = mustLoad()

func mustLoad() map[string]*catalog {
	out := make(map[string]*catalog)
	for _, lang := range []string{LangEN, LangDE} {
		raw, err := langFS.ReadFile("lang/" + lang + ".yml")
		if err != nil {
			panic(fmt.Sprintf("i18n: missing catalog %s: %v", lang, err))
		}
		var c catalog
		if err := yaml.Unmarshal(raw, &c); err != nil {
			panic(fmt.Sprintf("i18n: broken catalog %s: %v", lang, err))
		}
		out[lang] = &c
	}
	return out
}

func bundle(lang string) *catalog {
	if c, ok := bundles[lang]; ok {
		return c
	}
	return bundles[DefaultLanguage]
}

// T resolves a message key for the language and substitutes {NAME}-style
// placeholders from args. Unknown keys fall back to English, then to the
// key itself so a gap is visible instead of silent.
func T(lang, key string, args map[string]string) string {
	msg, ok := bundle(lang).Messages[key]
	if !ok {
		msg, ok = bundles[DefaultLanguage].Messages[key]
	}
	if !ok {
		return key
	}
	for k, v := range args {
		msg = strings.ReplaceAll(msg, "{"+k+"}", v)
	}
	return msg
}

// Button resolves a button label for the language.
func Button(lang, key string) string {
	if label, ok := bundle(lang).Buttons[key]; ok {
		return label
	}
	if label, ok := bundles[DefaultLanguage].Buttons[key]; ok {
		return label
	}
	return key
}

// ResolveCommand matches free text against the command aliases of every
// catalog, so "stop" works in a German conversation and "stopp" in an
// English one. Matching is case-insensitive on the trimmed text.
func ResolveCommand(text string) (string, bool) {
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return "", false
	}
	for _, c := range bundles {
		for cmd, aliases := range c.Commands {
			for _, a := range aliases {
				if needle == strings.ToLower(a) {
					return cmd, true
				}
			}
		}
	}
	return "", false
}

// DetectLanguage derives the conversation language from the sender's
// country prefix. German-speaking prefixes get German, everything else
// English.
func DetectLanguage(sender string) string {
	s := strings.TrimPrefix(sender, "+")
	for _, prefix := range []string{"49", "43", "41"} {
		if strings.HasPrefix(s, prefix) {
			return LangDE
		}
	}
	return DefaultLanguage
}
