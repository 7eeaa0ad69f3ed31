// Package repository define las interfaces que consume el core de
// autorización: Session Store, Connection Store, Provider Registry y los
// colaboradores externos (proxy, sync, sandbox de scripts).
//
// Estas interfaces representan contratos de negocio, independientes del
// almacenamiento subyacente (PostgreSQL, memoria, etc.).
//
// Las implementaciones concretas viven en internal/store/pg (durable) e
// internal/store/memory (referencia en proceso, usada por tests).
//
// Arquitectura:
//
//	┌─────────────────────────────────────────────────────┐
//	│         engine / refresh / hooks / prober            │
//	└─────────────────────────────────────────────────────┘
//	                        │
//	                        ▼
//	┌─────────────────────────────────────────────────────┐
//	│        domain/repository (interfaces)               │
//	│  SessionStore, ConnectionStore, ProviderRegistry     │
//	└─────────────────────────────────────────────────────┘
//	                        │
//	         ┌──────────────┼──────────────┐
//	         ▼              ▼              ▼
//	┌─────────────┐  ┌─────────────┐  ┌─────────────┐
//	│  store/pg   │  │ store/memory│  │  (future)   │
//	└─────────────┘  └─────────────┘  └─────────────┘
//
// Convenciones:
//   - EnvironmentID se pasa explícitamente en métodos que lo requieren
//   - Context siempre es el primer parámetro
//   - Errores de dominio están en errors.go
package repository
