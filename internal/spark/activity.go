package spark

import "net/url"

type ref struct {
	ID         string `json:"id"`
	ObjectType string `json:"objectType"`
	URL        string `json:"url,omitempty"`
}

type comment struct {
	DisplayName string `json:"displayName"`
	ObjectType  string `json:"objectType"`
}

type postBody struct {
	Verb       string  `json:"verb"`
	Object     comment `json:"object"`
	ObjectType string  `json:"objectType"`
	Target     ref     `json:"target"`
}

type addBody struct {
	Verb           string `json:"verb"`
	Actor          ref    `json:"actor"`
	AddParticipant bool   `json:"addParticipant"`
	Object         ref    `json:"object"`
	ObjectType     string `json:"objectType"`
	Target         ref    `json:"target"`
}

func conversationRef(base, room string) ref {
	return ref{
		ID:         room,
		ObjectType: "conversation",
		URL:        base + "/conversations/" + url.PathEscape(room),
	}
}

func messageActivity(base, room, message string) postBody {
	return postBody{
		Verb:       "post",
		Object:     comment{DisplayName: message, ObjectType: "comment"},
		ObjectType: "activity",
		Target:     conversationRef(base, room),
	}
}

func addActivity(base, room, actorID, personID string) addBody {
	return addBody{
		Verb:           "add",
		Actor:          ref{ID: actorID, ObjectType: "person"},
		AddParticipant: true,
		Object:         ref{ID: personID, ObjectType: "person"},
		ObjectType:     "activity",
		Target:         conversationRef(base, room),
	}
}
