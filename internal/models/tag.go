package models

import (
	"fmt"
	"math/rand/v2"
)

var tagAnimals = []string{
	"Panda", "Tiger", "Lion", "Eagle", "Dolphin", "Fox",
	"Wolf", "Bear", "Owl", "Penguin", "Koala", "Zebra",
	"Giraffe", "Elephant", "Monkey", "Rabbit", "Deer", "Turtle",
}

// NewStudentTag returns a pseudonymous tag such as "Panda#1274".
func NewStudentTag() string {
	return fmt.Sprintf("%s#%d", tagAnimals[rand.IntN(len(tagAnimals))], 1000+rand.IntN(9000))
}
