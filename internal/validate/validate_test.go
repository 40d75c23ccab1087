package validate

import (
	"strings"
	"testing"
)

func TestValidateAcceptsBrowserAutomation(t *testing.T) {
	v := New()
	sources := []string{
		`await page.goto('https://example.com')`,
		`const title = await page.title(); console.log(title)`,
		`await page.click('#checkout'); await page.waitForSelector('.done')`,
		// Mentioning a module name in a string literal is not an import.
		`console.log("docs about child_process live elsewhere")`,
	}
	for _, src := range sources {
		if err := v.Validate(src); err != nil {
			t.Errorf("Validate(%q) = %v, want nil", src, err)
		}
	}
}

func TestValidateRejectsRestrictedImports(t *testing.T) {
	v := New()
	tests := []struct {
		src    string
		module string
	}{
		{`const cp = require('child_process')`, "child_process"},
		{`const fs = require("fs")`, "fs"},
		{`import net from 'net'`, "net"},
		{`const http = require( 'http' )`, "http"},
	}
	for _, tt := range tests {
		err := v.Validate(tt.src)
		if err == nil {
			t.Errorf("Validate(%q) = nil, want restricted module error", tt.src)
			continue
		}
		if !strings.Contains(err.Error(), tt.module) {
			t.Errorf("Validate(%q) error = %v, want mention of %q", tt.src, err, tt.module)
		}
	}
}

func TestValidateRejectsDangerousGlobals(t *testing.T) {
	v := New()
	sources := []string{
		`eval("user input")`,
		`const f = new Function("return 1")`,
		`process.exit(1)`,
		`console.log(process.env.SECRET)`,
		`obj.__proto__.polluted = true`,
	}
	for _, src := range sources {
		if err := v.Validate(src); err == nil {
			t.Errorf("Validate(%q) = nil, want rejection", src)
		}
	}
}

func TestValidateReportsFirstViolation(t *testing.T) {
	v := New()
	src := `const fs = require('fs'); eval("x")`
	err := v.Validate(src)
	if err == nil {
		t.Fatal("expected violation")
	}
	if !strings.Contains(err.Error(), "fs") {
		t.Errorf("error = %v, want the first violation (fs import)", err)
	}
}
