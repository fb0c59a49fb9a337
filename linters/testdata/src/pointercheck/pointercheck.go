package pointercheck

import "fmt"

type Game struct {
	id, height int
}

// pointerCmp compares pointers, sometimes inside nested expressions.
func pointerCmp() {
	a, b := &Game{}, &Game{}
	// Simple comparisons.
	if a != b { // want `comparison of two pointers in expression`
		fmt.Println("Not Equal")
	}
	if a == b { // want `comparison of two pointers in expression`
		fmt.Println("Equals")
	}
	// Nested binary expressions.
	if (2 > 1) && (a != b) { // want `comparison of two pointers in expression`
		fmt.Println("Still not equal")
	}
	if (174%15 > 3) && (2 > 1 && (1+2 > 2 || a != b)) { // want `comparison of two pointers in expression`
		fmt.Println("Who knows at this point")
	}
	// Nested and inside unary operator.
	if 10 > 5 && !(2 > 1 || a == b) { // want `comparison of two pointers in expression`
		fmt.Println("Not equal")
	}
	c, d := 1, 2
	if &c != &d {
		fmt.Println("Not equal")
	}
}

func legitCmps() {
	a, b := &Game{}, &Game{}
	if a.id == b.id && a.height == b.height {
		fmt.Println("Allowed")
	}
}

type tipCache struct {
	tip *Game
}

// matches does pointer comparison.
func (c *tipCache) matches(g *Game) bool {
	return c.tip == g // want `comparison of two pointers in expression`
}
