/*
Package process defines editing process types and primitives.

# Processes

An editing process describes how a document moves through editorial
work as a directed graph of steps. Each process is versioned: a version
is a write-once snapshot of the whole graph. Creating or "editing" a
process always inserts a brand-new version; rows of committed versions
are never mutated. Drafts stay bound to the version that was latest
when they were created, so later edits to a process never disturb work
already in flight.

# Steps, slots, and links

A step is one stage of editing (say "Writing" or "Review"). A slot is a
named seat that a user occupies for the duration of a draft ("Author",
"Reviewer"). Slots may be limited to users holding one of a set of
roles and may be marked for automatic assignment (autofill). At each
step a slot is granted zero or more of a small closed set of
permissions: view, edit, propose-changes, and accept-changes.

Links are named, slot-qualified edges between steps. A user occupying a
slot advances a draft along a link originating at the draft's current
step. A step with no outgoing links is final: advancing into it
concludes the process and merges the draft back into its module.

# Trees

The Tree type is the complete description of one version's graph. On
input (creating a version) steps and slots are referenced by index into
the tree's own slices; the validator checks the description and storage
assigns stable identifiers. On output those identifiers are filled in.
*/
package process
