// Package ui implements the operator's terminal interface using bubbletea's Elm architecture.
//
// The browser walks a moderator through the store:
//  1. [PlayerListView] : Browse and filter known players
//  2. [HistoryView] : A player's punishments, newest first
//  3. [ConfirmView] : Confirm lifting the selected punishment
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the [Msg] union type.
// All store access goes through a [Source], so every read and write runs in its own transaction off the render loop.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, d, y/n, r, q) with contextual help displayed via charmbracelet/bubbles/help.
//
// The [Palette] styles are shared with the command line output.
package ui
