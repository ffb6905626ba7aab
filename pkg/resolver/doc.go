/*
Package resolver answers "which stages may follow this one?".

It is a pure computation over a workflow definition and a query (source
stage, session context, completed stages). Two strategies exist because
source workflows use either or both:

  - Transition table: follow transitions whose from_stage is the source,
    keeping those whose condition matches the context.
  - Dependencies: offer every not-yet-completed stage whose depends_on are
    all completed (or are the source) and whose prerequisites match.

StrategyAuto prefers the transition table when the definition has any
transitions. Results are de-duplicated by stage id, optionally ordered by
weight, and always empty when the source stage is an end stage.
*/
package resolver
