// Package publisher forwards stored ads to RabbitMQ.
//
// Each stored record becomes one persistent JSON message on a durable direct
// exchange, tagged "create" the first time the ad is stored in a run and
// "update" on later sightings.
package publisher
