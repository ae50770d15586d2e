// Package catalog реализует неизменяемый каталог definitions.
//
// Источники: YAML файлы (loader.go) и Postgres (internal/repo).
// Каталог собирается один раз при старте, каждый definition
// валидируется до того, как стать доступным оркестратору.
package catalog
