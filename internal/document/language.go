package document

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrUnknownLanguage is returned for language IDs outside the supported set.
var ErrUnknownLanguage = errors.New("unknown language")

// Language identifies a source language understood by the execution service.
type Language string

// Supported languages.
const (
	Python3 Language = "python3"
	Java    Language = "java"
	Cpp     Language = "cpp"
	NodeJS  Language = "nodejs"
	C       Language = "c"
	Ruby    Language = "ruby"
	Go      Language = "go"
	Scala   Language = "scala"
	Bash    Language = "bash"
	SQL     Language = "sql"
	Pascal  Language = "pascal"
	CSharp  Language = "csharp"
	PHP     Language = "php"
	Swift   Language = "swift"
	Rust    Language = "rust"
	R       Language = "r"
)

// DefaultLanguage is used when none is configured.
const DefaultLanguage = Python3

var templates = map[Language]string{
	Python3: `print("Hello World !!")`,
	Java: `public class Main {
    public static void main(String[] args) {
        System.out.println("Hello World !!");
    }
}`,
	Cpp: `#include <iostream>

int main() {
    std::cout << "Hello World !!" << std::endl;
    return 0;
}`,
	NodeJS: `console.log("Hello World !!");`,
	C: `#include <stdio.h>

int main() {
    printf("Hello World !!");
    return 0;
}`,
	Ruby: `puts "Hello World !!"`,
	Go: `package main

import "fmt"

func main() {
    fmt.Println("Hello World !!")
}`,
	Scala: `println("Hello World !!")`,
	Bash:  `echo "Hello World !!"`,
	SQL:   `SELECT 'Hello World !!';`,
	Pascal: `program HelloWorld;
begin
    writeln('Hello World !!');
end.`,
	CSharp: `using System;

class Program {
    static void Main(String[] args) {
        Console.WriteLine("Hello World !!");
    }
}`,
	PHP:   `<?php echo "Hello World !!"; ?>`,
	Swift: `print("Hello World !!")`,
	Rust: `fn main() {
    println!("Hello World !!");
}`,
	R: `print("Hello World !!")`,
}

// Languages returns every supported language, sorted.
func Languages() []Language {
	result := make([]Language, 0, len(templates))
	for lang := range templates {
		result = append(result, lang)
	}

	slices.Sort(result)

	return result
}

// ParseLanguage validates a language ID. Matching is case-insensitive.
func ParseLanguage(s string) (Language, error) {
	lang := Language(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := templates[lang]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownLanguage, s)
	}

	return lang, nil
}

// Template returns the starter text for lang, or "" if lang is unknown.
func (l Language) Template() string {
	return templates[l]
}

// String returns the language ID.
func (l Language) String() string {
	return string(l)
}
