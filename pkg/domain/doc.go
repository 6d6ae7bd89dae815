// Package domain holds the shared types of the dispatch core: caller claims,
// route identity, and the failure taxonomy that transport adapters map to
// protocol responses. It depends on nothing else in the module so that every
// layer can speak the same vocabulary without import cycles.
package domain
