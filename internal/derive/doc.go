// Package derive canonicalizes the order of identifiers in single-line
// `#[derive(...)]` attributes.
//
// Назначение: построчная нормализация derive-списков по таблице приоритетов.
// Не делает: разбора грамматики Rust, многострочных атрибутов или IO.
// Зависимости: internal/trace (точки трассировки для переписанных строк).
package derive
