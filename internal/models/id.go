package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// NewID returns a 24-character hex object id. Two ids joined by a separator
// stay within the 64-character channel id limit of the chat provider.
func NewID() string {
	return primitive.NewObjectID().Hex()
}
