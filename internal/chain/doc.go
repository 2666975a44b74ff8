// Package chain defines the interfaces of the external collaborators the
// funding and account layers talk to: balance reads, fee observations, limit
// estimation, transfer submission and operation submission. Concrete
// implementations live in the ethereum subpackage; higher layers depend only
// on these interfaces so tests can substitute fakes.
package chain
