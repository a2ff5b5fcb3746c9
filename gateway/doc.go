// Package gateway houses concrete implementations of the core gateway
// interfaces. The interfaces themselves (ConversationGateway, CreditGateway)
// live in the core package to centralize domain contracts; keeping only
// implementations here prevents the streaming engine from depending on
// concrete storage.
//
// Add durable backends (Postgres, Firestore, REST, etc.) in sub-packages
// without changing any calling code — only the wiring layer decides which
// implementation to instantiate. A SQLite/GORM backend ships in the gorm
// sub-package.
package gateway
