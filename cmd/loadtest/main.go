// Command loadtest drives a running broker with many concurrent
// standards-compliant MQTT clients, using paho as a reference
// implementation rather than this repository's own client library so
// the broker is exercised from an independent wire-protocol stack.
//
// It publishes the application-level message schemas the broker's
// topic layout was designed around (camera-data, drone-data/<id>,
// incident topics) so their wire formats stay honest even though the
// camera/drone/incident subsystems themselves are out of scope.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang-io/requests"
)

var (
	broker   = flag.String("broker", "tcp://127.0.0.1:1883", "broker address")
	clients  = flag.Int("clients", 50, "number of concurrent publishing clients")
	interval = flag.Duration("interval", time.Second, "publish interval per client")
	admin    = flag.String("admin", "", "admin username, required to register the loadtest accounts via $client-register")
	adminPwd = flag.String("admin-password", "", "admin password")
)

func onMessage(_ paho.Client, msg paho.Message) {
	log.Printf("recv topic=%s payload=%s", msg.Topic(), msg.Payload())
}

func main() {
	flag.Parse()

	var adminClient paho.Client
	if *admin != "" {
		adminClient = dial(0, *admin, *adminPwd)
		defer adminClient.Disconnect(250)
	}

	var wg sync.WaitGroup
	for i := 0; i < *clients; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			runClient(i, adminClient)
		}()
	}
	wg.Wait()
}

// runClient optionally self-registers through the admin connection,
// then connects and publishes one application-schema message per tick.
func runClient(i int, adminClient paho.Client) {
	username := fmt.Sprintf("loadtest-%03d", i)
	password := requests.GenId()

	if adminClient != nil {
		register(adminClient, username, username, password)
	}

	c := dial(i, username, password)
	defer c.Disconnect(250)

	if token := c.Subscribe("drone-data/+", 0, onMessage); token.Wait() && token.Error() != nil {
		log.Printf("client %d: subscribe: %v", i, token.Error())
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for range ticker.C {
		switch i % 3 {
		case 0:
			publishCamera(c, i)
		case 1:
			publishDrone(c, i)
		default:
			publishIncident(c, i)
		}
	}
}

func dial(i int, username, password string) paho.Client {
	opts := paho.NewClientOptions().
		AddBroker(*broker).
		SetClientID(fmt.Sprintf("loadtest-%03d-%s", i, requests.GenId())).
		SetUsername(username).
		SetPassword(password).
		SetCleanSession(true).
		SetAutoReconnect(false)

	c := paho.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("connect: %v", token.Error())
	}
	return c
}

// register publishes the reserved $client-register payload, honored
// by the broker only when sent from the admin identity.
func register(adminClient paho.Client, clientID, username, password string) {
	payload := fmt.Sprintf("%s;%s;%s", clientID, username, password)
	if token := adminClient.Publish("$client-register", 0, false, payload); token.Wait() && token.Error() != nil {
		log.Printf("register %s: %v", clientID, token.Error())
	}
}

func publishCamera(c paho.Client, i int) {
	payload := fmt.Sprintf("%d;%d;%d;ok", i, rand.Intn(1000), rand.Intn(1000))
	if token := c.Publish("camera-data", 0, false, payload); token.Wait() && token.Error() != nil {
		log.Printf("client %d: publish camera-data: %v", i, token.Error())
	}
}

func publishDrone(c paho.Client, i int) {
	topic := fmt.Sprintf("drone-data/%d", i)
	payload := fmt.Sprintf("%.1f;%.1f;0;%d", rand.Float64()*100, rand.Float64()*100, 50+rand.Intn(50))
	if token := c.Publish(topic, 0, false, payload); token.Wait() && token.Error() != nil {
		log.Printf("client %d: publish %s: %v", i, topic, token.Error())
	}
}

func publishIncident(c paho.Client, i int) {
	payload := fmt.Sprintf("%s;incident-%d;detected;%d;%d;open", requests.GenId(), i, rand.Intn(1000), rand.Intn(1000))
	if token := c.Publish("new-incident", 0, false, payload); token.Wait() && token.Error() != nil {
		log.Printf("client %d: publish new-incident: %v", i, token.Error())
	}
}
